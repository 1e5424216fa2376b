package conversion

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnhancementMaps are the side tables consumed during augmentation: an
// ISSN-to-license map and an author blocklist. Files are plain text, one
// entry per line, "key=value" for maps, "#" for comments.
type EnhancementMaps struct {
	issnToLicense  map[string]string
	blockedAuthors map[string]bool
}

const (
	issnLicenseFile     = "issn_to_license.map"
	authorBlocklistFile = "author_blocklist"
)

// LoadEnhancementMaps reads the side tables from the configured directory.
// An empty directory path yields empty maps; missing files are not an
// error.
func LoadEnhancementMaps(dir string) (*EnhancementMaps, error) {
	maps := &EnhancementMaps{
		issnToLicense:  make(map[string]string),
		blockedAuthors: make(map[string]bool),
	}
	if dir == "" {
		return maps, nil
	}

	if err := readLines(filepath.Join(dir, issnLicenseFile), func(line string) error {
		issn, license, found := strings.Cut(line, "=")
		if !found {
			return fmt.Errorf("malformed entry %q", line)
		}
		maps.issnToLicense[strings.TrimSpace(issn)] = strings.TrimSpace(license)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", issnLicenseFile, err)
	}

	if err := readLines(filepath.Join(dir, authorBlocklistFile), func(line string) error {
		maps.blockedAuthors[normalizeAuthorKey(line)] = true
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", authorBlocklistFile, err)
	}

	return maps, nil
}

func readLines(path string, handle func(string) error) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := handle(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// LicenseForISSN returns the mapped license for an ISSN, if any.
func (m *EnhancementMaps) LicenseForISSN(issn string) (string, bool) {
	license, ok := m.issnToLicense[issn]
	return license, ok
}

// IsBlockedAuthor reports whether the creator is on the author blocklist,
// matched on "last" or "last, first".
func (m *EnhancementMaps) IsBlockedAuthor(lastName, firstName string) bool {
	if m.blockedAuthors[normalizeAuthorKey(lastName)] {
		return true
	}
	if firstName != "" {
		return m.blockedAuthors[normalizeAuthorKey(lastName+", "+firstName)]
	}
	return false
}

func normalizeAuthorKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
