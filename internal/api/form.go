package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is a binary payload value. Any payload containing a File, at any
// depth, is sent as multipart/form-data.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// OpenFile reads a file from disk and detects its content type.
func OpenFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return &File{
		Name:        filepath.Base(path),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

func (f *File) mediaType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return mimetype.Detect(f.Data).String()
}

// FormField is one entry of a Form, in document order.
type FormField struct {
	Name  string
	Value string
	// FileInput marks a file picker field; File is the selected file, or nil.
	FileInput bool
	File      *File
}

// Form is a form-like payload: an ordered list of fields and an encoding
// type, the way an HTML form submits them.
type Form struct {
	EncType string
	Fields  []FormField
}

// NewForm returns an empty form with the given encoding type.
func NewForm(encType string) *Form {
	return &Form{EncType: encType}
}

// Add appends a text field.
func (f *Form) Add(name, value string) *Form {
	f.Fields = append(f.Fields, FormField{Name: name, Value: value})
	return f
}

// AddFile appends a file field. file may be nil for an empty file picker.
func (f *Form) AddFile(name string, file *File) *Form {
	f.Fields = append(f.Fields, FormField{Name: name, FileInput: true, File: file})
	return f
}

// isMultipart reports whether the form must be sent as multipart: either
// its encoding type says so or a file picker has a selected file.
func (f *Form) isMultipart() bool {
	if strings.Contains(strings.ToLower(f.EncType), "multipart") {
		return true
	}
	for _, field := range f.Fields {
		if field.FileInput && field.File != nil {
			return true
		}
	}
	return false
}

// values flattens the text fields. Repeated names collapse into a list.
func (f *Form) values() map[string]any {
	out := make(map[string]any)
	for _, field := range f.Fields {
		if field.FileInput {
			continue
		}
		switch prev := out[field.Name].(type) {
		case nil:
			out[field.Name] = field.Value
		case []any:
			out[field.Name] = append(prev, field.Value)
		default:
			out[field.Name] = []any{prev, field.Value}
		}
	}
	return out
}
