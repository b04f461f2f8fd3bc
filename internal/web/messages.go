package web

// messages.go maps technical errors to user-facing messages with a support code.
//
// # Error Codes Reference
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import not found: no job has the requested id
//	         Patterns: "job not found"
//
//	IMP002 - Retry not allowed: the job is not FALLIDO or used all its retries
//	         Patterns: "job cannot be retried"
//
//	IMP003 - Invalid state: the job cannot move to the requested state
//	         Patterns: "invalid job status transition"
//
//	IMP004 - Missing user: the submission has no usuario
//	         Patterns: "usuario is required"
//
//	IMP005 - Invalid filter or parameter
//	         Patterns: "invalid estado", "invalid total_filas", "invalid limit"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large", "request body too large"
//
//	FILE002 - Empty file
//	          Patterns: "empty file"
//
//	FILE003 - No file: the multipart form has no file part
//	          Patterns: "no file provided"
//
//	FILE004 - Storage unavailable: the file could not be staged
//	          Patterns: "staging dir", "staged file", "put object"
//
// # Queue Errors (QUE001-QUE099)
//
//	QUE001 - Queue unavailable
//	         Patterns: "ping redis", "publish envelope"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Database busy: "database is locked", "deadlock"
//	DB004 - Timeout
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - System busy: all upload slots are taken
//	         Patterns: "too many concurrent uploads"
//
//	UPL002 - Request cancelled
//	         Patterns: "context canceled"
//
//	UPL003 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # Default Error (ERR000)
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones. When a client
// reports ERR000, the server log holds the technical error under the same
// request_id.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Import errors
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "La importación no existe",
			Action:  "Verifique el identificador devuelto al enviar el archivo",
			Code:    "IMP001",
		},
	},
	{
		pattern: "job cannot be retried",
		msg: UserMessage{
			Message: "La importación no puede reintentarse",
			Action:  "Solo se reintentan importaciones FALLIDO con reintentos disponibles; envíe el archivo de nuevo",
			Code:    "IMP002",
		},
	},
	{
		pattern: "invalid job status transition",
		msg: UserMessage{
			Message: "La importación no admite ese cambio de estado",
			Action:  "Consulte el estado actual antes de reintentar",
			Code:    "IMP003",
		},
	},
	{
		pattern: "usuario is required",
		msg: UserMessage{
			Message: "Falta el usuario que registra la importación",
			Action:  "Incluya el campo usuario en el formulario",
			Code:    "IMP004",
		},
	},
	{
		pattern: "invalid estado",
		msg: UserMessage{
			Message: "Estado desconocido",
			Action:  "Use EN_COLA, PROCESANDO, COMPLETADO o FALLIDO",
			Code:    "IMP005",
		},
	},
	{
		pattern: "invalid total_filas",
		msg: UserMessage{
			Message: "total_filas debe ser un entero no negativo",
			Action:  "Corrija el valor u omita el campo",
			Code:    "IMP005",
		},
	},
	{
		pattern: "invalid limit",
		msg: UserMessage{
			Message: "limit debe ser un entero positivo",
			Action:  "Corrija el parámetro limit",
			Code:    "IMP005",
		},
	},

	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "El archivo supera el tamaño máximo permitido",
			Action:  "Divida el archivo en partes más pequeñas",
			Code:    "FILE001",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "El archivo supera el tamaño máximo permitido",
			Action:  "Divida el archivo en partes más pequeñas",
			Code:    "FILE001",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "El archivo está vacío",
			Action:  "Envíe un CSV con encabezados y filas de datos",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No se recibió ningún archivo",
			Action:  "Adjunte el CSV en el campo file",
			Code:    "FILE003",
		},
	},
	{
		pattern: "staging dir",
		msg: UserMessage{
			Message: "No se pudo guardar el archivo",
			Action:  "Intente de nuevo en unos momentos",
			Code:    "FILE004",
		},
	},
	{
		pattern: "staged file",
		msg: UserMessage{
			Message: "No se pudo guardar el archivo",
			Action:  "Intente de nuevo en unos momentos",
			Code:    "FILE004",
		},
	},
	{
		pattern: "put object",
		msg: UserMessage{
			Message: "No se pudo guardar el archivo",
			Action:  "Intente de nuevo en unos momentos",
			Code:    "FILE004",
		},
	},

	// Queue errors
	{
		pattern: "ping redis",
		msg: UserMessage{
			Message: "La cola de importaciones no está disponible",
			Action:  "Intente de nuevo en unos momentos",
			Code:    "QUE001",
		},
	},
	{
		pattern: "publish envelope",
		msg: UserMessage{
			Message: "La cola de importaciones no está disponible",
			Action:  "Intente de nuevo en unos momentos",
			Code:    "QUE001",
		},
	},

	// Upload errors. Context errors come before the generic timeout pattern.
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "El sistema está procesando otras cargas",
			Action:  "Espere un momento e intente de nuevo",
			Code:    "UPL001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "La solicitud fue cancelada",
			Action:  "Intente de nuevo",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "La solicitud excedió el tiempo de espera",
			Action:  "Revise su conexión o envíe un archivo más pequeño",
			Code:    "UPL003",
		},
	},

	// Database errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "No se pudo conectar con la base de datos",
			Action:  "Intente de nuevo en unos momentos",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Se interrumpió la conexión con la base de datos",
			Action:  "Intente de nuevo",
			Code:    "DB002",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "La base de datos está ocupada",
			Action:  "Intente de nuevo",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "La base de datos está ocupada",
			Action:  "Intente de nuevo",
			Code:    "DB003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "La operación excedió el tiempo de espera",
			Action:  "Intente de nuevo más tarde",
			Code:    "DB004",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "Ocurrió un error inesperado",
	Action:  "Intente de nuevo o contacte a soporte",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Código: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Código: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
