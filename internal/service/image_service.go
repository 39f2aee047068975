package service

import (
	"net/url"
	"strings"
)

const (
	imageSeedLength = 30
	imageURLFormat  = "https://picsum.photos/seed/%s/800/600"
)

// ImageService 为提示词生成图片地址。
type ImageService interface {
	Generate(prompt string) (string, error)
}

type placeholderImageService struct{}

// NewImageService 返回占位图实现：以提示词前 30 个字符作为随机种子。
func NewImageService() ImageService {
	return &placeholderImageService{}
}

func (s *placeholderImageService) Generate(prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyInput
	}
	runes := []rune(prompt)
	if len(runes) > imageSeedLength {
		runes = runes[:imageSeedLength]
	}
	seed := strings.ReplaceAll(url.QueryEscape(string(runes)), "+", "%20")
	return strings.Replace(imageURLFormat, "%s", seed, 1), nil
}
