// Package web renders the password challenge page and serves its static
// assets from the embedded assets directory.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed assets/*
var content embed.FS

// ChallengeData is the input of the challenge page.
type ChallengeData struct {
	// Language is the raw Accept-Language header of the request.
	Language string
	// Failed shows the generic incorrect-password message.
	Failed bool
	// Action is the form target (the guarded route).
	Action string
	// AsyncURL is the asynchronous submission endpoint; empty disables the
	// script-driven submit.
	AsyncURL         string
	FieldSecret      string
	FieldAntiForgery string
	AntiForgeryToken string
}

type challengeView struct {
	Lang        string
	Title       string
	Description string
	Placeholder string
	Submit      string
	Notice      string
	Error       string
	AssetsPath  string

	Action           string
	AsyncURL         string
	FieldSecret      string
	FieldAntiForgery string
	AntiForgeryToken string
}

// Renderer renders the challenge page.
type Renderer struct {
	tmpl       *template.Template
	assetsPath string
}

// NewRenderer parses the embedded templates. assetsPath is the URL prefix
// under which Assets is mounted.
func NewRenderer(assetsPath string) (*Renderer, error) {
	tmpl, err := template.ParseFS(content, "assets/challenge.html")
	if err != nil {
		return nil, fmt.Errorf("parsing challenge template: %w", err)
	}
	return &Renderer{tmpl: tmpl, assetsPath: assetsPath}, nil
}

// Challenge renders the challenge page to an HTML document.
func (r *Renderer) Challenge(data ChallengeData) ([]byte, error) {
	p, lang := Printer(data.Language)
	view := challengeView{
		Lang:        lang,
		Title:       p.Sprintf(MsgTitle),
		Description: p.Sprintf(MsgDescription),
		Placeholder: p.Sprintf(MsgPlaceholder),
		Submit:      p.Sprintf(MsgSubmit),
		Notice:      p.Sprintf(MsgNotice),
		AssetsPath:  r.assetsPath,

		Action:           data.Action,
		AsyncURL:         data.AsyncURL,
		FieldSecret:      data.FieldSecret,
		FieldAntiForgery: data.FieldAntiForgery,
		AntiForgeryToken: data.AntiForgeryToken,
	}
	if data.Failed {
		view.Error = p.Sprintf(MsgIncorrectPassword)
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "challenge.html", view); err != nil {
		return nil, fmt.Errorf("rendering challenge: %w", err)
	}
	return buf.Bytes(), nil
}

// Assets returns an http.Handler serving the stylesheet and script. Mount it
// with http.StripPrefix at the renderer's assets path.
func Assets() (http.Handler, error) {
	fsys, err := fs.Sub(content, "assets")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}
	static := http.FileServer(http.FS(fsys))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gate.css", "/gate.js":
			w.Header().Set("Cache-Control", "public, max-age=3600")
			static.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	}), nil
}
