package cf

import (
	"fmt"
	"os"

	"golang.design/x/clipboard"
)

// ImportFromClipboard reads captured bypass JSON from the clipboard,
// parses it, and stores it. Returns the domain on success.
func ImportFromClipboard(store *BypassStore) (string, error) {
	if err := clipboard.Init(); err != nil {
		LogCFImport("unknown", false, err)
		return "", fmt.Errorf("failed to initialize clipboard: %w", err)
	}

	clipboardData := clipboard.Read(clipboard.FmtText)
	if len(clipboardData) == 0 {
		err := fmt.Errorf("clipboard is empty")
		LogCFImport("unknown", false, err)
		return "", err
	}

	return importJSON(store, string(clipboardData))
}

// ImportFromFile is ImportFromClipboard for headless hosts.
func ImportFromFile(store *BypassStore, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		LogCFImport("unknown", false, err)
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return importJSON(store, string(raw))
}

func importJSON(store *BypassStore, jsonData string) (string, error) {
	data, err := ParseCapturedData(jsonData)
	if err != nil {
		LogCFImport("unknown", false, err)
		return "", fmt.Errorf("failed to parse bypass data: %w", err)
	}

	if err := store.Save(data); err != nil {
		LogCFImport(data.Domain, false, err)
		return "", fmt.Errorf("failed to save data: %w", err)
	}

	LogCFImport(data.Domain, true, nil)
	return data.Domain, nil
}
