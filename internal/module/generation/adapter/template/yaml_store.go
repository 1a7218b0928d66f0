package template

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jinford/curriculum-rag/internal/module/generation/domain"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type yamlFile struct {
	Templates map[string]struct {
		Version int    `yaml:"version"`
		Content string `yaml:"content"`
	} `yaml:"templates"`
}

// YAMLStore は埋め込みYAMLから読み込んだ既定テンプレート
//
// A/Bテストは持たず、バージョンのスナップショットは現在のバージョンのみ返す。
type YAMLStore struct {
	templates map[string]*domain.Template
}

var _ domain.TemplateStore = (*YAMLStore)(nil)

// NewDefaultStore は埋め込みの既定テンプレートを読み込みます
func NewDefaultStore() (*YAMLStore, error) {
	return NewYAMLStore(defaultsYAML)
}

// NewYAMLStore はYAMLからテンプレートを読み込みます
func NewYAMLStore(data []byte) (*YAMLStore, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}

	templates := make(map[string]*domain.Template, len(file.Templates))
	for key, t := range file.Templates {
		version := t.Version
		if version <= 0 {
			version = 1
		}
		templates[key] = &domain.Template{Key: key, Content: t.Content, Version: version}
	}
	return &YAMLStore{templates: templates}, nil
}

func (s *YAMLStore) GetTemplate(_ context.Context, key string) (*domain.Template, error) {
	t, ok := s.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, key)
	}
	c := *t
	return &c, nil
}

func (s *YAMLStore) GetVersionSnapshot(_ context.Context, key string, version int) (string, error) {
	t, ok := s.templates[key]
	if !ok || t.Version != version {
		return "", fmt.Errorf("%w: %s v%d", domain.ErrTemplateVersionNotFound, key, version)
	}
	return t.Content, nil
}

// Keys は登録済みのテンプレートキーを返す
func (s *YAMLStore) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	return keys
}
