package renderer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
)

// LoadData decodes a page data file. The top level must be a JSON object.
// A missing or malformed file yields empty data and a data error telling the
// user which file to check; the page is still rendered.
func LoadData(path string) (map[string]interface{}, *buildErrors.BuildError) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	guidance := fmt.Sprintf("Check JSON format of `%s.json` file", name)

	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]interface{}{}, buildErrors.NewDataError(path, guidance, err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]interface{}{}, buildErrors.NewDataError(path, guidance, err)
	}
	if data == nil {
		return map[string]interface{}{}, buildErrors.NewDataError(path, guidance, errors.New("top level is null"))
	}

	return data, nil
}
