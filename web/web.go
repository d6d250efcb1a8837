// Package web embeds the viewer page, its HTML fragments and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates static
var files embed.FS

// Fragments returns the HTML fragments rendered into SSE patches.
func Fragments() fs.FS {
	sub, err := fs.Sub(files, "templates/fragments")
	if err != nil {
		panic(err)
	}
	return sub
}

// Static returns the static assets served under /static/.
func Static() fs.FS {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Viewer returns the viewer page.
func Viewer() ([]byte, error) {
	return files.ReadFile("templates/viewer.html")
}
