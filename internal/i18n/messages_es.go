package i18n

// spanishMessages contains all Spanish translations.
var spanishMessages = map[string]string{
	// Error messages
	"error.generic":            "Algo salió mal. Inténtalo de nuevo.",
	"error.api":                "Error de la API: %s",
	"error.token_expired":      "token caducado",
	"error.no_access_token":    "No se encontró token de acceso.",
	"error.invalid_request":    "Cuerpo de la petición no válido",
	"error.invalid_limit":      "limit debe ser un entero no negativo",
	"error.invalid_time_range": "time_range debe ser short_term, medium_term o long_term",
	"error.missing_uri":        "uri es obligatorio",
	"error.missing_device":     "device_id es obligatorio",
	"error.no_device":          "No hay ningún reproductor activo",
	"error.rate_limited":       "Demasiadas peticiones, ve más despacio",
	"error.history_invalid":    "El historial de reproducción contiene una entrada no válida",

	// Auth messages
	"auth.state_mismatch":   "state_mismatch",
	"auth.exchange_failed":  "Falló el intercambio del token",
	"auth.no_refresh_token": "No hay token de refresco disponible",
	"auth.refresh_invalid":  "El token de refresco caducó o no es válido",
	"auth.refresh_failed":   "No se pudo refrescar el token",

	// Status messages
	"status.nothing_playing": "No se está reproduciendo nada ahora mismo",
	"status.query_too_short": "Escribe al menos %d caracteres para buscar",
}
