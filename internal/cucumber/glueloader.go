package cucumber

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/spf13/afero"
)

// GlueSymbolName is the exported symbol every user-contributed glue
// plugin must define: var GlueSymbolName = cucumber.GluePackage(func(...) {...}).
const GlueSymbolName = "GluePackage"

// LoadUserGluePackages loads every ".so" file under stepDefDir in fsys
// as a Go plugin and resolves its GluePackage symbol. Go's plugin
// package only opens real files, so each plugin is copied out of the
// in-memory virtual FS into a scratch directory on the host before
// loading; user-contributed packages are therefore opaque compiled
// code (the same trust boundary the original JVM-hosted engine has for
// uploaded step-definition jars), not something this service inspects
// or sandboxes further.
//
// Plugins built with `go build -buildmode=plugin` only load on the
// same OS/arch/toolchain version that built the host binary; this is a
// real constraint of Go's plugin mechanism, not one this package
// introduces.
func LoadUserGluePackages(fsys afero.Fs, stepDefDir, scratchDir string) ([]GluePackage, error) {
	entries, err := afero.ReadDir(fsys, stepDefDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list step definitions: %w", err)
	}

	var packages []GluePackage
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}

		src := path.Join(stepDefDir, entry.Name())
		data, err := afero.ReadFile(fsys, src)
		if err != nil {
			return nil, fmt.Errorf("read glue plugin %s: %w", entry.Name(), err)
		}

		dst := filepath.Join(scratchDir, entry.Name())
		if err := os.WriteFile(dst, data, 0o755); err != nil {
			return nil, fmt.Errorf("stage glue plugin %s: %w", entry.Name(), err)
		}

		p, err := plugin.Open(dst)
		if err != nil {
			return nil, fmt.Errorf("open glue plugin %s: %w", entry.Name(), err)
		}
		sym, err := p.Lookup(GlueSymbolName)
		if err != nil {
			return nil, fmt.Errorf("glue plugin %s missing %s symbol: %w", entry.Name(), GlueSymbolName, err)
		}
		glue, ok := sym.(GluePackage)
		if !ok {
			ptr, ok2 := sym.(*GluePackage)
			if !ok2 {
				return nil, fmt.Errorf("glue plugin %s: %s symbol has wrong type", entry.Name(), GlueSymbolName)
			}
			glue = *ptr
		}
		packages = append(packages, glue)
	}
	return packages, nil
}
