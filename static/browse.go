// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package static

import (
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cloudwindy/misaka/edgehttp"
)

// entry is one row of a directory listing.
type entry struct {
	Name    string
	URL     string
	IsDir   bool
	Size    string
	ModTime time.Time
}

// listing is the data bound to browseTemplate.
type listing struct {
	Path    string
	CanGoUp bool
	Entries []entry
}

var browseTemplate = template.Must(template.New("browse").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Path}}</title></head>
<body>
<h1>{{.Path}}</h1>
<ul>
{{if .CanGoUp}}<li><a href="../">../</a></li>{{end}}
{{range .Entries}}<li><a href="{{.URL}}">{{.Name}}</a>{{if not .IsDir}} &mdash; {{.Size}}{{end}}</li>
{{end}}
</ul>
</body>
</html>
`))

// browse stats dir's entries and renders a minimal HTML listing, mapping
// per-entry stat failures the same way the top-level resolution does (spec
// §4.F: "Per-entry stat failures are mapped the same way as step 8").
func (h *Handler) browse(ctx *edgehttp.Context, dir, urlPath string) error {
	f, err := os.Open(dir)
	if err != nil {
		return edgehttp.Error(http.StatusInternalServerError, err)
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return edgehttp.Error(http.StatusInternalServerError, err)
	}
	sort.Strings(names)

	entries := make([]entry, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(path.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				ctx.SetStatus(http.StatusNotFound)
				return nil
			}
			return edgehttp.Error(http.StatusInternalServerError, err)
		}
		display := name
		href := (&url.URL{Path: name}).String()
		size := humanize.Bytes(uint64(info.Size()))
		if info.IsDir() {
			display += "/"
			href += "/"
			size = ""
		}
		entries = append(entries, entry{
			Name:    display,
			URL:     href,
			IsDir:   info.IsDir(),
			Size:    size,
			ModTime: info.ModTime(),
		})
	}

	l := listing{
		Path:    urlPath,
		CanGoUp: urlPath != "/" && urlPath != "",
		Entries: entries,
	}

	ctx.Reply.Header().Set("Content-Type", "text/html; charset=utf-8")
	return browseTemplate.Execute(ctx.Reply, l)
}
