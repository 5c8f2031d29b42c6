package retrieve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocumentResolver looks up a vault document's full text by wiki-link
// target, resolving extensions and case-insensitive basename matches
// the way Obsidian itself does.
type DocumentResolver interface {
	Resolve(target string) (path string, text string, found bool)
}

// VaultDocumentResolver resolves wiki-link targets against files on
// disk under a vault root.
type VaultDocumentResolver struct {
	vaultPath  string
	extensions []string
}

// NewVaultDocumentResolver constructs a resolver rooted at vaultPath.
func NewVaultDocumentResolver(vaultPath string, extensions []string) *VaultDocumentResolver {
	if len(extensions) == 0 {
		extensions = []string{".md"}
	}
	return &VaultDocumentResolver{vaultPath: vaultPath, extensions: extensions}
}

// Resolve implements spec.md §4.9: exact path match preferred,
// falling back to a case-insensitive basename match.
func (v *VaultDocumentResolver) Resolve(target string) (string, string, bool) {
	if path, text, ok := v.tryExact(target); ok {
		return path, text, true
	}
	return v.tryBasename(target)
}

func (v *VaultDocumentResolver) tryExact(target string) (string, string, bool) {
	candidates := []string{target}
	if filepath.Ext(target) == "" {
		for _, ext := range v.extensions {
			candidates = append(candidates, target+ext)
		}
	}

	for _, candidate := range candidates {
		absPath := filepath.Join(v.vaultPath, filepath.FromSlash(candidate))
		content, err := os.ReadFile(absPath)
		if err == nil {
			relPath, relErr := filepath.Rel(v.vaultPath, absPath)
			if relErr != nil {
				relPath = candidate
			}
			return filepath.ToSlash(relPath), string(content), true
		}
	}
	return "", "", false
}

func (v *VaultDocumentResolver) tryBasename(target string) (string, string, bool) {
	want := strings.ToLower(strings.TrimSuffix(filepath.Base(target), filepath.Ext(target)))

	var found string
	_ = filepath.WalkDir(v.vaultPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() {
			return nil
		}
		base := strings.ToLower(strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())))
		if base == want {
			found = path
		}
		return nil
	})
	if found == "" {
		return "", "", false
	}

	content, err := os.ReadFile(found)
	if err != nil {
		return "", "", false
	}
	relPath, err := filepath.Rel(v.vaultPath, found)
	if err != nil {
		relPath = found
	}
	return filepath.ToSlash(relPath), string(content), true
}

// GraphExpander implements spec.md §4.9: follow outbound wiki-link
// targets one level deep and append unseen linked documents as
// additional `linked` candidates.
type GraphExpander struct {
	resolver DocumentResolver
}

// NewGraphExpander constructs a GraphExpander over resolver.
func NewGraphExpander(resolver DocumentResolver) *GraphExpander {
	return &GraphExpander{resolver: resolver}
}

// Expand appends linked candidates for every link target in
// candidates not already represented by a current candidate's source
// path. Broken links are silently dropped (spec.md §4.9 edge case).
func (g *GraphExpander) Expand(_ context.Context, candidates []Candidate) []Candidate {
	seenPaths := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		seenPaths[c.SourcePath] = struct{}{}
	}

	seenTargets := make(map[string]struct{})
	expanded := make([]Candidate, len(candidates))
	copy(expanded, candidates)

	for _, c := range candidates {
		for _, target := range c.Links {
			if _, already := seenTargets[target]; already {
				continue
			}
			seenTargets[target] = struct{}{}

			path, text, found := g.resolver.Resolve(target)
			if !found {
				continue // broken link, silently dropped
			}
			if _, already := seenPaths[path]; already {
				continue
			}
			seenPaths[path] = struct{}{}

			expanded = append(expanded, Candidate{
				ChunkID:    fmt.Sprintf("linked:%s", path),
				SourcePath: path,
				Text:       text,
				Provenance: ProvenanceLinked,
			})
		}
	}

	return expanded
}
