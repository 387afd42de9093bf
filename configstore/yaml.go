// SPDX-License-Identifier: AGPL-3.0-or-later
package configstore

import yml "gopkg.in/yaml.v2"

func yamlMarshal(v any) ([]byte, error) {
	return yml.Marshal(v)
}
