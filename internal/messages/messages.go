// Package messages holds the progress status strings shown to pollers and
// their translations.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Status keys. The English text doubles as the catalog key.
const (
	Queued              = "Waiting in queue"
	Starting            = "Starting dream processing"
	Analyzing           = "Extracting keywords and analyzing the dream"
	Generating          = "Generating the 3D model"
	Downloading         = "Downloading the generated model"
	Finalizing          = "Optimizing the model and preparing resources"
	Complete            = "Model ready"
	ProcessingFailed    = "processing failed"
	ServiceUnavailable  = "service unavailable"
	AnalysisTimeout     = "analysis service timed out"
	AnalysisUnreachable = "analysis service unreachable"
	AnalysisFailed      = "analysis failed"
	GenerationFailed    = "generation failed"
	DownloadFailed      = "download failed"
	Interrupted         = "interrupted"
)

var chinese = map[string]string{
	Queued:              "排队等待处理",
	Starting:            "正在启动梦境处理...",
	Analyzing:           "正在提取关键词和进行梦境分析...",
	Generating:          "正在生成3D模型...",
	Downloading:         "正在下载生成的模型文件...",
	Finalizing:          "正在优化模型和处理资源...",
	Complete:            "模型已生成",
	ProcessingFailed:    "处理失败",
	ServiceUnavailable:  "API服务暂时不可用，请稍后再试",
	AnalysisTimeout:     "梦境分析服务响应超时",
	AnalysisUnreachable: "无法连接梦境分析服务",
	AnalysisFailed:      "梦境分析失败",
	GenerationFailed:    "3D模型生成失败，请稍后重试",
	DownloadFailed:      "下载模型文件失败",
	Interrupted:         "处理被中断，请重新提交",
}

// Supported lists the locales with a translation, default first.
var Supported = []language.Tag{language.English, language.Chinese}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(Supported)
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, zh := range chinese {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Chinese, key, zh)
	}
	return b
}

// Match returns the supported tag closest to locale, such as "zh-CN" or "en".
func Match(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, _ := matcher.Match(tag)
	return Supported[idx]
}

// Localize translates a status key. Unknown text, such as upstream error
// detail, is returned unchanged.
func Localize(locale, msg string) string {
	if _, ok := chinese[msg]; !ok {
		return msg
	}
	p := message.NewPrinter(Match(locale), message.Catalog(cat))
	return p.Sprintf(msg)
}
