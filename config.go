package post_archiver

import (
	"strings"
	"text/template"
	"time"
)

const (
	DefaultVideoNameTemplate = "{{.Date}} - {{.Author}} - video {{.Number}}.{{.Ext}}"
	DefaultImageNameTemplate = "{{.Date}} - {{.Author}} - image {{.Number}} - {{.ID}}.{{.Ext}}"
)

// NameTemplate renders the filenames that media is stored under.
type NameTemplate struct {
	tmpl *template.Template
}

// NameArgs are the fields available to a NameTemplate.
type NameArgs struct {
	Author string
	Date   string
	// Number is the 1-based position of the media item in its post.
	Number int
	ID     string
	Ext    string
}

func NewNameArgs(post *RawPost, index int, id string, ext string) NameArgs {
	date := time.Now().UTC().Format("2006-01-02")
	if t, err := time.Parse(time.RFC3339, post.Timestamp); err == nil {
		date = t.UTC().Format("2006-01-02")
	}
	author := post.Author
	if author == "" {
		author = "unknown"
	}
	return NameArgs{
		Author: author,
		Date:   date,
		Number: index + 1,
		ID:     id,
		Ext:    strings.TrimPrefix(ext, "."),
	}
}

func NewNameTemplate(name string, text string) (*NameTemplate, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	return &NameTemplate{tmpl: tmpl}, nil
}

// MustNameTemplate is like NewNameTemplate, but panics on an invalid template.
func MustNameTemplate(name string, text string) *NameTemplate {
	return &NameTemplate{tmpl: template.Must(template.New(name).Option("missingkey=error").Parse(text))}
}

// Execute renders the template, making the result safe to use as a single path element.
func (t *NameTemplate) Execute(args NameArgs) (string, error) {
	builder := strings.Builder{}
	if err := t.tmpl.Execute(&builder, &args); err != nil {
		return "", err
	}
	return SanitizeFilename(builder.String()), nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFilename strips characters that are not allowed in filenames on common filesystems.
func SanitizeFilename(name string) string {
	name = filenameReplacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}
