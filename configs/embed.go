// Package configs provides assets embedded into the regcopilot binary.
//
// Embedding via go:embed keeps the assets available in every distribution,
// source builds and binary releases alike:
//
//   - regcopilot.example.yaml: the commented configuration template written
//     by `regcopilot config init`. Every setting is optional; the template
//     documents the defaults from internal/config.NewConfig().
//   - corpus_snapshot.json: the default preloaded corpus the server seeds
//     from when corpus.snapshot_path is not configured. It is a small
//     built-in reference set (Basel III, COREP, FINREP); production
//     deployments point snapshot_path at a full `regcopilot preprocess`
//     output instead.
//
// To change either asset, edit the file in this directory and rebuild.
package configs

import _ "embed"

// ConfigTemplate is the project configuration template.
// Created by: `regcopilot config init` at .regcopilot.yaml.
//
//go:embed regcopilot.example.yaml
var ConfigTemplate string

// DefaultSnapshot is the built-in corpus snapshot, used when no
// corpus.snapshot_path is configured. Decoded with kb.ParseSnapshot.
//
//go:embed corpus_snapshot.json
var DefaultSnapshot []byte
