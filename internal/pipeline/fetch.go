package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/shirabe/internal/attempt"
	"github.com/ashita-ai/shirabe/internal/model"
)

var (
	spacesRe = regexp.MustCompile(`[ \t]+`)
	docIDRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// document is one fetched source.
type document struct {
	meta model.SourceDocument
	text string
}

type fetchResult struct {
	docs     []document
	sources  []model.SourceDocument
	failures []model.FetchFailure
	// requested counts tool calls asked for, including those refused by
	// the budget.
	requested int64
}

// fetchAll reads every requested document through the configured adapter
// with at most workers concurrent reads. Each read is one tool call. Output
// order follows ids regardless of completion order.
func (r *Runner) fetchAll(ctx context.Context, ids []string, adapter string, budget *attempt.ToolBudget) (fetchResult, error) {
	docs := make([]*document, len(ids))
	fails := make([]*model.FetchFailure, len(ids))
	var (
		mu        sync.Mutex
		requested int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			requested++
			mu.Unlock()

			if err := budget.Spend(1); err != nil {
				fails[i] = &model.FetchFailure{DocumentID: id, Adapter: adapter, Error: err.Error()}
				return nil
			}
			doc, err := r.fetchOne(id, adapter)
			if err != nil {
				r.logger.Debug("pipeline: fetch failed", "document_id", id, "adapter", adapter, "error", err)
				fails[i] = &model.FetchFailure{DocumentID: id, Adapter: adapter, Error: err.Error()}
				return nil
			}
			docs[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fetchResult{}, fmt.Errorf("pipeline: fetch: %w", err)
	}

	out := fetchResult{requested: requested}
	for i, id := range ids {
		switch {
		case docs[i] != nil:
			out.docs = append(out.docs, *docs[i])
			out.sources = append(out.sources, docs[i].meta)
		case fails[i] != nil:
			out.failures = append(out.failures, *fails[i])
			out.sources = append(out.sources, model.SourceDocument{ID: id, Adapter: adapter})
		}
	}
	return out, nil
}

// fetchOne reads <corpus>/<adapter>/<id>.txt, or <id>.html for the HTML
// fallback adapter.
func (r *Runner) fetchOne(id, adapter string) (document, error) {
	if !docIDRe.MatchString(id) {
		return document{}, fmt.Errorf("invalid document id %q", id)
	}
	ext := ".txt"
	if adapter == model.AdapterHTML {
		ext = ".html"
	}
	path := filepath.Join(r.cfg.CorpusDir, adapter, id+ext)
	data, err := os.ReadFile(path) //nolint:gosec // id is validated above
	if errors.Is(err, os.ErrNotExist) {
		return document{}, fmt.Errorf("%s: not found", adapter)
	}
	if err != nil {
		return document{}, err
	}

	text := string(data)
	if adapter == model.AdapterHTML {
		text = stripHTML(text)
	}
	if strings.TrimSpace(text) == "" {
		return document{}, fmt.Errorf("%s: empty document", adapter)
	}
	return document{
		meta: model.SourceDocument{
			ID:        id,
			Title:     title(text, id),
			URI:       "file://" + filepath.ToSlash(path),
			Adapter:   adapter,
			Fetched:   true,
			ByteCount: len(data),
		},
		text: text,
	}, nil
}

var cdataOpen = []byte("<![CDATA[")

// blockTags end a paragraph.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Section: true,
	atom.Article: true, atom.Blockquote: true, atom.Pre: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// stripHTML reduces markup to text. Block boundaries become blank lines so
// paragraphs survive as passages. Script and style bodies, comments and
// doctypes and CDATA sections are dropped; entities are decoded.
func stripHTML(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	z.AllowCDATA(true)
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF, or a truncated document; either way keep what was read.
			return squeeze(b.String())
		case html.TextToken:
			if hidden == 0 && !bytes.HasPrefix(z.Raw(), cdataOpen) {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case (a == atom.Script || a == atom.Style) && tt == html.StartTagToken:
				hidden++
			case a == atom.Br:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style:
				if hidden > 0 {
					hidden--
				}
			case blockTags[a]:
				b.WriteString("\n\n")
			default:
				b.WriteByte(' ')
			}
		}
	}
}

func squeeze(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(l, " "))
	}
	return strings.Join(lines, "\n")
}

// title is the first markdown heading, or the first line, or the id.
func title(text, id string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return id
}
