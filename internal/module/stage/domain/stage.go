package domain

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jinford/curriculum-rag/internal/shared/apperr"
)

// ID はステージID（Q1..Q10）
type ID string

// StageCount はワークフローのステージ数
const StageCount = 10

// Definition はステージの固定定義
type Definition struct {
	ID          ID       `yaml:"id"`
	Title       string   `yaml:"title"`
	TemplateKey string   `yaml:"template"`
	WebTopic    string   `yaml:"web_topic"`
	Scorer      string   `yaml:"scorer"`
	Required    []string `yaml:"required"`
	Fields      []string `yaml:"fields"`
	// Order は 1 始まりの並び順
	Order int `yaml:"-"`
}

// Schema はステージ入力のスキーマを返す
func (d Definition) Schema() Schema {
	return Schema{Required: d.Required, Fields: d.Fields}
}

//go:embed catalogue.yaml
var catalogueYAML []byte

var (
	catalogue []Definition
	byID      map[ID]Definition
)

func init() {
	var doc struct {
		Stages []Definition `yaml:"stages"`
	}
	if err := yaml.Unmarshal(catalogueYAML, &doc); err != nil {
		panic(fmt.Sprintf("invalid stage catalogue: %v", err))
	}
	if len(doc.Stages) != StageCount {
		panic(fmt.Sprintf("stage catalogue must define %d stages, got %d", StageCount, len(doc.Stages)))
	}
	byID = make(map[ID]Definition, len(doc.Stages))
	for i := range doc.Stages {
		doc.Stages[i].Order = i + 1
		byID[doc.Stages[i].ID] = doc.Stages[i]
	}
	catalogue = doc.Stages
}

// ParseID はステージIDを検証する。未定義の場合は ErrInvalidStage
func ParseID(s string) (ID, error) {
	id := ID(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := byID[id]; !ok {
		return "", apperr.Wrap(ErrInvalidStage, "parse stage", fmt.Errorf("%q", s))
	}
	return id, nil
}

// IsValidID はステージIDが定義済みかを返す
func IsValidID(s string) bool {
	_, err := ParseID(s)
	return err == nil
}

// All は全ステージ定義を順序どおりに返す
func All() []Definition {
	out := make([]Definition, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup はステージ定義を返す
func Lookup(id ID) (Definition, bool) {
	d, ok := byID[id]
	return d, ok
}

// First は最初のステージ
func First() ID {
	return catalogue[0].ID
}

// Next は次のステージを返す。最後のステージの場合は false
func Next(id ID) (ID, bool) {
	d, ok := byID[id]
	if !ok || d.Order >= len(catalogue) {
		return "", false
	}
	return catalogue[d.Order].ID, true
}

// Before は id より前のステージを順序どおりに返す
func Before(id ID) []ID {
	d, ok := byID[id]
	if !ok {
		return nil
	}
	ids := make([]ID, 0, d.Order-1)
	for _, def := range catalogue[:d.Order-1] {
		ids = append(ids, def.ID)
	}
	return ids
}
