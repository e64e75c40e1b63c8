package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/snapclass/snapclass/internal/model"
	"github.com/snapclass/snapclass/internal/store"
	"github.com/snapclass/snapclass/internal/submission"
)

// loadQuestions imports answer-key questions from JSON files. Each file is
// imported once; a file whose content changed since is skipped so existing
// scores stay comparable.
func loadQuestions(ctx context.Context, st *store.Store, subs *submission.Service, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := st.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to keep the answer key stable",
				"path", path)
			continue
		}

		var questions []model.Question
		if err := json.Unmarshal(data, &questions); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for i, q := range questions {
			if err := subs.AddQuestion(ctx, q); err != nil {
				return fmt.Errorf("question %d in %s: %w", i+1, path, err)
			}
		}

		if err := st.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(questions))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
