package i18n

// Message keys shared across packages.
const (
	KeyWelcome             = "conversation.welcome"
	KeyDefaultName         = "conversation.defaultName"
	KeyNotConfigured       = "error.notConfigured"
	KeyInvalidKey          = "error.invalidKey"
	KeyQuota               = "error.quota"
	KeyToolConfig          = "error.toolConfig"
	KeyNetwork             = "error.network"
	KeyBackend             = "error.backend"
	KeyCancelled           = "error.cancelled"
	KeyBusy                = "error.busy"
	KeyInvalidURL          = "error.invalidUrl"
	KeyDuplicateURL        = "error.duplicateUrl"
	KeyContextLimit        = "error.contextLimit"
	KeyUnsupportedFile     = "error.unsupportedFile"
	KeyFileRead            = "error.fileRead"
	KeyEmptyName           = "error.emptyName"
	KeyLastConversation    = "error.lastConversation"
	KeyUnknownConversation = "error.unknownConversation"
	KeyUnknownMessage      = "error.unknownMessage"
	KeyReplayTarget        = "error.replayTarget"
	KeyEmptyMessage        = "error.emptyMessage"
	KeyInvalidLimit        = "error.invalidLimit"
	KeySuggestions         = "error.suggestions"
	KeyNothingToSummarize  = "error.nothingToSummarize"
	KeyLabelUser           = "label.user"
	KeyLabelModel          = "label.model"
	KeyLabelSystem         = "label.system"
	KeyLabelAttachments    = "label.attachments"
	KeyLabelSources        = "label.sources"
	KeySummaryTitle        = "summary.title"
)

var catalogs = map[string]map[string]string{
	"en": {
		KeyWelcome:             "Welcome to %s! Add URLs or documents to the knowledge base and ask me anything about them.",
		KeyDefaultName:         "New Chat",
		KeyNotConfigured:       "No API key is configured. Set GEMINI_API_KEY or model.apiKey and try again.",
		KeyInvalidKey:          "The API key was rejected by the model service. Check that it is valid.",
		KeyQuota:               "The model service quota has been exceeded. Try again later.",
		KeyToolConfig:          "The model rejected the URL retrieval tool configuration: %s",
		KeyNetwork:             "Could not reach the model service: %s",
		KeyBackend:             "The model service returned an error: %s",
		KeyCancelled:           "The response was cancelled.",
		KeyBusy:                "A response is already being generated. Wait for it to finish.",
		KeyInvalidURL:          "%q is not a valid http(s) URL.",
		KeyDuplicateURL:        "%q is already in the knowledge base.",
		KeyContextLimit:        "The knowledge base is limited to %d items.",
		KeyUnsupportedFile:     "Files of type %q are not supported.",
		KeyFileRead:            "Could not read %s: %s",
		KeyEmptyName:           "The conversation name cannot be empty.",
		KeyLastConversation:    "The last conversation cannot be deleted.",
		KeyUnknownConversation: "Conversation not found.",
		KeyUnknownMessage:      "Message not found.",
		KeyReplayTarget:        "That message cannot be edited or regenerated.",
		KeyEmptyMessage:        "Type a message or attach a file first.",
		KeyInvalidLimit:        "The knowledge base limit must be between %d and %d.",
		KeySuggestions:         "Could not fetch suggested questions: %s",
		KeyNothingToSummarize:  "There is nothing to summarize yet.",
		KeyLabelUser:           "You",
		KeyLabelModel:          "Assistant",
		KeyLabelSystem:         "System",
		KeyLabelAttachments:    "Attachments",
		KeyLabelSources:        "Sources",
		KeySummaryTitle:        "Summary",
	},
	"es": {
		KeyWelcome:             "¡Bienvenido a %s! Añade URLs o documentos a la base de conocimiento y pregúntame lo que quieras sobre ellos.",
		KeyDefaultName:         "Nueva conversación",
		KeyNotConfigured:       "No hay ninguna clave de API configurada. Define GEMINI_API_KEY o model.apiKey e inténtalo de nuevo.",
		KeyInvalidKey:          "El servicio del modelo rechazó la clave de API. Comprueba que sea válida.",
		KeyQuota:               "Se ha superado la cuota del servicio del modelo. Inténtalo más tarde.",
		KeyToolConfig:          "El modelo rechazó la configuración de la herramienta de URLs: %s",
		KeyNetwork:             "No se pudo contactar con el servicio del modelo: %s",
		KeyBackend:             "El servicio del modelo devolvió un error: %s",
		KeyCancelled:           "La respuesta se canceló.",
		KeyBusy:                "Ya se está generando una respuesta. Espera a que termine.",
		KeyInvalidURL:          "%q no es una URL http(s) válida.",
		KeyDuplicateURL:        "%q ya está en la base de conocimiento.",
		KeyContextLimit:        "La base de conocimiento está limitada a %d elementos.",
		KeyUnsupportedFile:     "Los archivos de tipo %q no son compatibles.",
		KeyFileRead:            "No se pudo leer %s: %s",
		KeyEmptyName:           "El nombre de la conversación no puede estar vacío.",
		KeyLastConversation:    "No se puede eliminar la última conversación.",
		KeyUnknownConversation: "Conversación no encontrada.",
		KeyUnknownMessage:      "Mensaje no encontrado.",
		KeyReplayTarget:        "Ese mensaje no se puede editar ni regenerar.",
		KeyEmptyMessage:        "Escribe un mensaje o adjunta un archivo primero.",
		KeyInvalidLimit:        "El límite de la base de conocimiento debe estar entre %d y %d.",
		KeySuggestions:         "No se pudieron obtener preguntas sugeridas: %s",
		KeyNothingToSummarize:  "Todavía no hay nada que resumir.",
		KeyLabelUser:           "Tú",
		KeyLabelModel:          "Asistente",
		KeyLabelSystem:         "Sistema",
		KeyLabelAttachments:    "Adjuntos",
		KeyLabelSources:        "Fuentes",
		KeySummaryTitle:        "Resumen",
	},
	"ar": {
		KeyWelcome:             "مرحبًا بك في %s! أضف روابط أو مستندات إلى قاعدة المعرفة واسألني عنها.",
		KeyDefaultName:         "محادثة جديدة",
		KeyNotConfigured:       "لم يتم ضبط مفتاح API. عيّن GEMINI_API_KEY أو model.apiKey ثم حاول مجددًا.",
		KeyInvalidKey:          "رفضت خدمة النموذج مفتاح API. تحقق من صحته.",
		KeyQuota:               "تم تجاوز حصة خدمة النموذج. حاول لاحقًا.",
		KeyToolConfig:          "رفض النموذج إعداد أداة استرجاع الروابط: %s",
		KeyNetwork:             "تعذر الوصول إلى خدمة النموذج: %s",
		KeyBackend:             "أعادت خدمة النموذج خطأ: %s",
		KeyCancelled:           "تم إلغاء الرد.",
		KeyBusy:                "يجري إنشاء رد بالفعل. انتظر حتى ينتهي.",
		KeyInvalidURL:          "%q ليس رابط http(s) صالحًا.",
		KeyDuplicateURL:        "%q موجود بالفعل في قاعدة المعرفة.",
		KeyContextLimit:        "قاعدة المعرفة محدودة بـ %d عنصرًا.",
		KeyUnsupportedFile:     "الملفات من النوع %q غير مدعومة.",
		KeyFileRead:            "تعذرت قراءة %s: %s",
		KeyEmptyName:           "لا يمكن أن يكون اسم المحادثة فارغًا.",
		KeyLastConversation:    "لا يمكن حذف المحادثة الأخيرة.",
		KeyUnknownConversation: "المحادثة غير موجودة.",
		KeyUnknownMessage:      "الرسالة غير موجودة.",
		KeyReplayTarget:        "لا يمكن تعديل هذه الرسالة أو إعادة إنشائها.",
		KeyEmptyMessage:        "اكتب رسالة أو أرفق ملفًا أولًا.",
		KeyInvalidLimit:        "يجب أن يكون حد قاعدة المعرفة بين %d و %d.",
		KeySuggestions:         "تعذر جلب الأسئلة المقترحة: %s",
		KeyNothingToSummarize:  "لا يوجد شيء لتلخيصه بعد.",
		KeyLabelUser:           "أنت",
		KeyLabelModel:          "المساعد",
		KeyLabelSystem:         "النظام",
		KeyLabelAttachments:    "المرفقات",
		KeyLabelSources:        "المصادر",
		KeySummaryTitle:        "الملخص",
	},
}
