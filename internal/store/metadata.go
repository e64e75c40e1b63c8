package store

import "context"

// GetImportedFileHash returns the hash recorded for an imported questions
// file. Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var imports map[string]string
	if _, _, err := s.getOrDefault(ctx, KeyImports, &imports); err != nil {
		return "", err
	}
	return imports[path], nil
}

// SetImportedFileHash records the hash of an imported questions file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	var imports map[string]string
	return s.Update(ctx, KeyImports, &imports, func(bool) error {
		if imports == nil {
			imports = make(map[string]string)
		}
		imports[path] = hash
		return nil
	})
}
