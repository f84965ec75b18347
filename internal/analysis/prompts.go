package analysis

import (
	"context"
	"strings"

	"aspor-backend/internal/shared/storage/object"
	"aspor-backend/internal/shared/telemetry"
)

// Model selectors.
const (
	ModelContragarantias = "A"
	ModelInformesSociales = "B"
)

// Prompt override blob keys.
const (
	promptKeyContragarantias  = "prompts/CONTRAGARANTIAS.txt"
	promptKeyInformesSociales = "prompts/INFORMES_SOCIALES.txt"
)

const defaultPromptContragarantias = `Analiza el siguiente documento legal e identifica todas las contragarantías presentes.
Proporciona un análisis detallado que incluya:
1. Tipo de contragarantía
2. Partes involucradas
3. Condiciones específicas
4. Plazos y vigencia
5. Riesgos identificados

Documento:
`

const defaultPromptInformesSociales = `Analiza el siguiente informe social y proporciona un resumen estructurado que incluya:
1. Situación socioeconómica actual
2. Factores de riesgo identificados
3. Recursos disponibles
4. Necesidades detectadas
5. Recomendaciones de intervención
6. Plan de acción sugerido

Informe:
`

// ValidModel reports whether the selector names a known prompt variant.
func ValidModel(model string) bool {
	return model == ModelContragarantias || model == ModelInformesSociales
}

// loadPrompt returns the stored prompt override for the model, falling back to
// the built-in template on any read failure.
func (s *Service) loadPrompt(ctx context.Context, model string) string {
	key := promptKeyContragarantias
	builtin := defaultPromptContragarantias
	if model == ModelInformesSociales {
		key = promptKeyInformesSociales
		builtin = defaultPromptInformesSociales
	}

	text, err := object.ReadText(ctx, s.Store, key)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			telemetry.Info("prompt override unavailable, using builtin", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
		return builtin
	}
	return text
}
