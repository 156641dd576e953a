package complexity

// DefaultKeywords weights domain terms that signal analytical queries.
// Matching is by substring on lowercased text, so no entry should be a
// substring of another entry or of a common inflection of one.
var DefaultKeywords = map[string]float64{
	"analizar":       1.8,
	"comparar":       1.6,
	"estrategia":     1.9,
	"problema":       1.5,
	"solución":       1.4,
	"optimizar":      1.7,
	"implementar":    1.6,
	"evaluar":        1.5,
	"predecir":       1.6,
	"impacto":        1.5,
	"consecuencia":   1.5,
	"metodología":    1.8,
	"framework":      1.6,
	"estructura":     1.5,
	"proceso":        1.4,
	"diseñar":        1.7,
	"arquitectura":   1.7,
	"integración":    1.6,
	"escalabilidad":  1.7,
	"rendimiento":    1.6,
	"seguridad":      1.6,
	"riesgo":         1.5,
	"oportunidad":    1.5,
	"validación":     1.5,
	"experiencia":    1.5,
	"innovación":     1.6,
	"transformación": 1.7,
	"múltiple":       1.4,
	"variante":       1.4,
	"alternativa":    1.4,
	"simulación":     1.6,
	"escenario":      1.5,

	"analyze":        1.8,
	"compare":        1.6,
	"strategy":       1.9,
	"problem":        1.5,
	"solution":       1.4,
	"optimize":       1.7,
	"implementation": 1.6,
	"evaluate":       1.5,
	"predict":        1.6,
	"consequence":    1.5,
	"methodology":    1.8,
	"structure":      1.5,
	"process":        1.4,
	"design":         1.7,
	"architecture":   1.7,
	"integration":    1.6,
	"scalability":    1.7,
	"performance":    1.6,
	"security":       1.6,
	"risk":           1.5,
	"opportunity":    1.5,
	"validation":     1.5,
	"experience":     1.5,
	"innovation":     1.6,
	"transformation": 1.7,
	"multiple":       1.4,
	"alternative":    1.4,
	"simulation":     1.6,
	"tradeoff":       1.5,
}
