package anomaly

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFromFile loads a policy from a YAML file.
func LoadPolicyFromFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	return LoadPolicy(f)
}

// LoadPolicy loads a policy from a reader. Knobs left out of the document
// take their defaults; mute rules are compiled during validation.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var policy Policy
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&policy); err != nil {
		if err == io.EOF {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	policy.applyDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return &policy, nil
}

// LoadPolicyFromBytes loads a policy from YAML bytes.
func LoadPolicyFromBytes(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	policy.applyDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return &policy, nil
}
