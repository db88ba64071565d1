// Package repository define los contratos de persistencia del núcleo de identidad.
//
// Las interfaces son independientes del almacenamiento; las implementaciones
// viven en internal/store/adapters (memory, sqlite, pg).
//
//	┌─────────────────────────────────────────────────────┐
//	│   services (session, tokens, admin), Credentials    │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  Users, Roles, Claims, ExternalLogins, RefreshTokens│
//	└─────────────────────────────────────────────────────┘
//	                        │
//	         ┌──────────────┼──────────────┐
//	         ▼              ▼              ▼
//	┌─────────────┐  ┌─────────────┐  ┌─────────────┐
//	│   memory    │  │   sqlite    │  │     pg      │
//	└─────────────┘  └─────────────┘  └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Búsquedas por nombre/email/rol usan la forma normalizada (Normalize)
//   - Errores de dominio están en errors.go
package repository
