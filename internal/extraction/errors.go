package extraction

import (
	"strings"

	"aspor-backend/internal/shared/util"
)

const maxErrorMessageLen = 500

// UserMessage translates an internal extraction error into the Spanish
// user-facing message recorded on the run and returned to the client.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	var out string
	switch {
	case strings.Contains(msg, "UnsupportedDocument") || strings.Contains(lower, "unsupported document"):
		out = "El formato del documento no es compatible. Por favor, usa PDF, imágenes (PNG, JPG) o convierte el documento a uno de estos formatos."
	case strings.Contains(msg, "InvalidParameter"):
		out = "El documento está dañado o tiene un formato inválido. Por favor, verifica el archivo."
	case strings.Contains(msg, "ProvisionedThroughputExceeded") || strings.Contains(msg, "ThrottlingException"):
		out = "El servicio está temporalmente sobrecargado. Por favor, intenta de nuevo en unos momentos."
	case strings.Contains(lower, "taking too long") || strings.Contains(msg, "tardando demasiado") || strings.Contains(lower, "deadline exceeded"):
		out = "El procesamiento del documento está tardando más de lo esperado. Por favor, intente con un archivo más pequeño o inténtelo nuevamente más tarde."
	case strings.Contains(msg, "AccessDenied"):
		out = "Error de permisos al acceder al documento. Por favor, contacte al administrador."
	case strings.Contains(msg, "escaneadas") || strings.Contains(lower, "scanned"):
		out = "El documento parece contener imágenes escaneadas. El sistema intentó procesarlo pero no pudo extraer texto legible."
	case strings.Contains(lower, "bedrock") || strings.Contains(lower, "vision"):
		out = "El procesamiento avanzado del documento falló. Por favor, asegúrese de que el documento contiene texto legible."
	default:
		out = "Error al procesar el documento: " + msg
	}

	return util.CapRunes(out, maxErrorMessageLen)
}
