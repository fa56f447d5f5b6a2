// Copyright 2025 The Jobexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package job

import (
	"fmt"
	"strings"
)

// formatPlaceholders substitutes {name} placeholders in template using
// ctx. A placeholder with no matching key is a hard error -- callers must
// never silently leave it blank, per the cluster jobscript contract.
func formatPlaceholders(template string, ctx map[string]string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(template) {
		c := template[i]
		if c == '{' {
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder in template")
			}
			name := template[i+1 : i+end]
			val, ok := ctx[name]
			if !ok {
				return "", fmt.Errorf("placeholder %q not found", name)
			}
			b.WriteString(val)
			i += end + 1
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}
