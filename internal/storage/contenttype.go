package storage

import (
	"path"
	"strings"
)

var modelContentTypes = map[string]string{
	".glb":  "model/gltf-binary",
	".gltf": "model/gltf+json",
	".obj":  "model/obj",
	".fbx":  "application/octet-stream",
	".usdz": "model/vnd.usdz+zip",
}

// ContentTypeFor guesses the MIME type of a model artifact from its key.
func ContentTypeFor(key string) string {
	if ct, ok := modelContentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ModelExtension returns the artifact extension for a download URL path,
// falling back to ".glb" for anything that is not a known model format.
func ModelExtension(urlPath string) string {
	ext := strings.ToLower(path.Ext(urlPath))
	if _, ok := modelContentTypes[ext]; ok {
		return ext
	}
	return ".glb"
}
