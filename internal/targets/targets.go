package targets

import (
	"errors"
	"fmt"
	"strings"
)

// Type tags the entity a relationship points at.
type Type string

const (
	TypePost     Type = "post"
	TypeActivity Type = "activity"
	TypeProject  Type = "project"
	TypeResource Type = "resource"
	TypeComment  Type = "comment"
	TypeUser     Type = "user"
)

// ErrUnknownType indicates a target type outside the supported set.
var ErrUnknownType = errors.New("targets: unknown target type")

// ContentTypes lists the target types backed by content items.
var ContentTypes = []Type{TypePost, TypeActivity, TypeProject, TypeResource}

// Parse normalizes raw input into a Type.
func Parse(raw string) (Type, error) {
	value := Type(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case TypePost, TypeActivity, TypeProject, TypeResource, TypeComment, TypeUser:
		return value, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
}

// IsContent reports whether the type refers to a content item.
func (t Type) IsContent() bool {
	for _, candidate := range ContentTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// Ref identifies a single target.
type Ref struct {
	ID   string
	Type Type
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// ContentTypeStrings returns ContentTypes as plain strings for query parameters.
func ContentTypeStrings() []string {
	values := make([]string, 0, len(ContentTypes))
	for _, value := range ContentTypes {
		values = append(values, string(value))
	}
	return values
}
