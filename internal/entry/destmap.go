package entry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadDestinationMap reads a YAML mapping of tracked key to destination key,
// e.g.
//
//	gclid: gid
//	session_id: sid
func LoadDestinationMap(path string) (DestinationMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "entry: read destination map %s", path)
	}
	return ParseDestinationMap(data)
}

// ParseDestinationMap decodes a YAML destination map.
func ParseDestinationMap(data []byte) (DestinationMap, error) {
	var m DestinationMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "entry: parse destination map")
	}
	return m, nil
}

// Merge returns a map holding base overlaid with override.
func Merge(base, override DestinationMap) DestinationMap {
	out := make(DestinationMap, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
