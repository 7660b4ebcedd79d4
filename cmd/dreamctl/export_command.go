package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dreamecho/internal/bootstrap"
	"dreamecho/internal/domain"
	"dreamecho/pkg/zip"
)

type exportManifest struct {
	ID                int64    `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Keywords          []string `json:"keywords"`
	Symbols           []string `json:"symbols"`
	Emotions          []string `json:"emotions"`
	VisualDescription string   `json:"visual_description"`
	Interpretation    string   `json:"interpretation"`
	Model             string   `json:"model"`
	CreatedAt         string   `json:"created_at"`
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var owner int64
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <dream-id>",
		Short: "Bundle a completed dream's model and interpretation into a zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid dream id %q", args[0])
			}
			if outPath == "" {
				outPath = fmt.Sprintf("dream_%d.zip", id)
			}
			return ctx.withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				dream, err := rt.Dreams.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if owner > 0 && dream.OwnerID != owner {
					return domain.ErrForbidden
				}
				if dream.Status != domain.DreamStatusComplete {
					return fmt.Errorf("dream %d is %s, only complete dreams can be exported", id, dream.Status)
				}
				reader, ok := rt.ArtifactReader()
				if !ok {
					return errors.New("artifact store cannot read files back")
				}

				manifest, err := json.MarshalIndent(newExportManifest(dream), "", "  ")
				if err != nil {
					return err
				}
				modelName := "model" + path.Ext(dream.ModelPath)
				entries := []zip.Entry{
					{Filename: "dream.json", Modified: dream.UpdatedAt, Data: manifest},
					{Filename: modelName, Modified: dream.UpdatedAt, Open: func() (io.ReadCloser, error) {
						return reader.Open(cmd.Context(), dream.ModelPath)
					}},
				}

				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				if err := zip.WriteArchive(f, entries); err != nil {
					f.Close()
					_ = os.Remove(outPath)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				size := "unknown size"
				if info, err := os.Stat(outPath); err == nil {
					size = humanize.Bytes(uint64(info.Size()))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported dream %d to %s (%s)\n", id, outPath, size)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Require the dream to belong to this owner")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default dream_<id>.zip)")
	return cmd
}

func newExportManifest(d *domain.Dream) exportManifest {
	return exportManifest{
		ID:                d.ID,
		Title:             d.Title,
		Description:       d.Text,
		Keywords:          d.Keywords,
		Symbols:           d.Symbols,
		Emotions:          d.Emotions,
		VisualDescription: d.VisualDescription,
		Interpretation:    d.Interpretation,
		Model:             d.ModelPath,
		CreatedAt:         d.CreatedAt.UTC().Format(time.RFC3339),
	}
}
