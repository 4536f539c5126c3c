// Package repository define las entidades del dominio y los contratos de
// persistencia. Las implementaciones viven en internal/store (postgres para
// producción, memory para dev y tests).
//
// Reglas de escritura: OAuthAccount solo se escribe a través del linker;
// OAuthToken solo a través del vault/refresher. Ningún otro componente toca
// esas tablas directamente.
package repository
