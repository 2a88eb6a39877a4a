package infra

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tastamat/fandomon/internal/domain"
)

const redacted = "********"

// ExportSettings writes settings as a flat YAML document keyed by storage key.
// Credentials are redacted unless includeSecrets is set.
func ExportSettings(w io.Writer, s domain.Settings, includeSecrets bool) error {
	values := s.Values()
	if !includeSecrets {
		for k, v := range values {
			if domain.IsSecretSetting(k) && v != "" {
				values[k] = redacted
			}
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(values); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return enc.Close()
}

// ImportSettings reads a flat YAML document of storage keys and applies it to
// s. Scalars of any YAML type are accepted. Redacted secrets are skipped so an
// exported file can be re-imported without wiping credentials.
func ImportSettings(r io.Reader, s *domain.Settings) ([]string, error) {
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	for key := range doc {
		if _, err := s.Value(key); err != nil {
			return nil, err
		}
	}
	var applied []string
	for _, key := range domain.SettingKeys() {
		node, ok := doc[key]
		if !ok {
			continue
		}
		if node.Kind != yaml.ScalarNode {
			return applied, fmt.Errorf("%w: %s must be a scalar", domain.ErrInvalidSetting, key)
		}
		if domain.IsSecretSetting(key) && node.Value == redacted {
			continue
		}
		if err := s.Apply(key, node.Value); err != nil {
			return applied, err
		}
		applied = append(applied, key)
	}
	return applied, nil
}

// ImportSettingsFile is ImportSettings over a file path.
func ImportSettingsFile(path string, s *domain.Settings) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ImportSettings(f, s)
}
