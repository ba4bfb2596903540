// Load YAML test fixtures (scheduler configs, trait tables, etc).

package tasksched_testutils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYamlFile decodes fileName's contents into obj.
func LoadYamlFile(fileName string, obj any) error {
	buf, err := os.ReadFile(fileName)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(buf, obj); err != nil {
		return fmt.Errorf("%v: error decoding %#v into %T", err, fileName, obj)
	}
	return nil
}
