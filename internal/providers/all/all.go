// Package all registra todas las variantes de proveedores externos.
package all

import (
	_ "github.com/dropDatabas3/johnid/internal/providers/facebook"
	_ "github.com/dropDatabas3/johnid/internal/providers/google"
	_ "github.com/dropDatabas3/johnid/internal/providers/microsoft"
)
