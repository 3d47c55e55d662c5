package services

import (
	"fmt"
	"strings"
)

// DefaultLanguage is used until a user's language is known.
const DefaultLanguage = "es"

type textKey string

const (
	msgServiceError        textKey = "service_error"
	msgAudioFailed         textKey = "audio_failed"
	msgPolicyHeader        textKey = "policy_header"
	msgPolicyBody          textKey = "policy_body"
	msgPolicyAcceptButton  textKey = "policy_accept_button"
	msgPolicyRejectButton  textKey = "policy_reject_button"
	msgPolicyAccepted      textKey = "policy_accepted"
	msgPolicyRefused       textKey = "policy_refused"
	msgLanguageMenu        textKey = "language_menu"
	msgFeedbackPrompt      textKey = "feedback_prompt"
	msgFeedbackPositive    textKey = "feedback_positive"
	msgFeedbackNegative    textKey = "feedback_negative"
	msgFeedbackComment     textKey = "feedback_comment"
	msgFeedbackThanks      textKey = "feedback_thanks"
	msgFeedbackAskComment  textKey = "feedback_ask_comment"
	msgFeedbackCommentDone textKey = "feedback_comment_done"
	msgInactivityClosed    textKey = "inactivity_closed"
	msgLocationReceived    textKey = "location_received"
	msgTicketCreated       textKey = "ticket_created"
	msgTicketImageAdded    textKey = "ticket_image_added"
	msgImageFailed         textKey = "image_failed"
)

var catalog = map[string]map[textKey]string{
	"es": {
		msgServiceError:        "Error del servicio, por favor inténtalo de nuevo más tarde.",
		msgAudioFailed:         "No he podido entender tu audio. ¿Podrías escribir tu mensaje?",
		msgPolicyHeader:        "Política de privacidad",
		msgPolicyBody:          "Antes de continuar necesitamos que aceptes nuestra política de privacidad (v%s): %s\n\n%s",
		msgPolicyAcceptButton:  "Acepto",
		msgPolicyRejectButton:  "No acepto",
		msgPolicyAccepted:      "¡Gracias! Has aceptado la política de privacidad. ¿En qué puedo ayudarte?",
		msgPolicyRefused:       "Sin aceptar la política de privacidad no podemos atenderte por este canal. Escríbenos de nuevo cuando quieras.",
		msgLanguageMenu:        "¿En qué idioma prefieres que te atienda?",
		msgFeedbackPrompt:      "¿Qué te ha parecido la atención recibida?",
		msgFeedbackPositive:    "👍 Buena",
		msgFeedbackNegative:    "👎 Mala",
		msgFeedbackComment:     "💬 Comentar",
		msgFeedbackThanks:      "¡Gracias por tu valoración!",
		msgFeedbackAskComment:  "Escribe tu comentario y lo haremos llegar al equipo.",
		msgFeedbackCommentDone: "¡Gracias por tu comentario!",
		msgInactivityClosed:    "Hemos cerrado la conversación por inactividad. Escríbenos cuando quieras para continuar.",
		msgLocationReceived:    "Hemos recibido tu ubicación.",
		msgTicketCreated:       "Hemos registrado tu incidencia (#%s): %s. Te mantendremos informado.",
		msgTicketImageAdded:    "Hemos añadido la imagen a tu incidencia #%s.",
		msgImageFailed:         "No he podido procesar la imagen. ¿Podrías enviarla de nuevo?",
	},
	"en": {
		msgServiceError:        "Service error, please retry later.",
		msgAudioFailed:         "I couldn't understand your audio. Could you type your message?",
		msgPolicyHeader:        "Privacy policy",
		msgPolicyBody:          "Before we continue, please accept our privacy policy (v%s): %s\n\n%s",
		msgPolicyAcceptButton:  "I accept",
		msgPolicyRejectButton:  "I don't accept",
		msgPolicyAccepted:      "Thank you! You have accepted the privacy policy. How can I help you?",
		msgPolicyRefused:       "Without accepting the privacy policy we can't assist you on this channel. Write to us again whenever you like.",
		msgLanguageMenu:        "Which language would you like me to use?",
		msgFeedbackPrompt:      "How was the service you received?",
		msgFeedbackPositive:    "👍 Good",
		msgFeedbackNegative:    "👎 Bad",
		msgFeedbackComment:     "💬 Comment",
		msgFeedbackThanks:      "Thank you for your rating!",
		msgFeedbackAskComment:  "Write your comment and we'll pass it on to the team.",
		msgFeedbackCommentDone: "Thank you for your comment!",
		msgInactivityClosed:    "We closed the conversation due to inactivity. Write to us whenever you want to continue.",
		msgLocationReceived:    "We received your location.",
		msgTicketCreated:       "We have registered your issue (#%s): %s. We'll keep you posted.",
		msgTicketImageAdded:    "We added the image to your issue #%s.",
		msgImageFailed:         "I couldn't process the image. Could you send it again?",
	},
	"pt": {
		msgServiceError:        "Erro no serviço, tente novamente mais tarde.",
		msgAudioFailed:         "Não consegui entender o seu áudio. Pode escrever a sua mensagem?",
		msgPolicyHeader:        "Política de privacidade",
		msgPolicyBody:          "Antes de continuar, precisamos que aceite a nossa política de privacidade (v%s): %s\n\n%s",
		msgPolicyAcceptButton:  "Aceito",
		msgPolicyRejectButton:  "Não aceito",
		msgPolicyAccepted:      "Obrigado! Aceitou a política de privacidade. Como posso ajudar?",
		msgPolicyRefused:       "Sem aceitar a política de privacidade não podemos atendê-lo neste canal. Escreva-nos quando quiser.",
		msgLanguageMenu:        "Em que idioma prefere ser atendido?",
		msgFeedbackPrompt:      "O que achou do atendimento?",
		msgFeedbackPositive:    "👍 Bom",
		msgFeedbackNegative:    "👎 Mau",
		msgFeedbackComment:     "💬 Comentar",
		msgFeedbackThanks:      "Obrigado pela sua avaliação!",
		msgFeedbackAskComment:  "Escreva o seu comentário e faremos chegar à equipa.",
		msgFeedbackCommentDone: "Obrigado pelo seu comentário!",
		msgInactivityClosed:    "Encerrámos a conversa por inatividade. Escreva-nos quando quiser continuar.",
		msgLocationReceived:    "Recebemos a sua localização.",
		msgTicketCreated:       "Registámos o seu pedido (#%s): %s. Iremos mantê-lo informado.",
		msgTicketImageAdded:    "Adicionámos a imagem ao seu pedido #%s.",
		msgImageFailed:         "Não consegui processar a imagem. Pode enviá-la novamente?",
	},
}

// localize returns the message for lang, falling back to the default
// language, and formats args into it.
func localize(lang string, key textKey, args ...interface{}) string {
	texts, ok := catalog[baseLanguage(lang)]
	if !ok {
		texts = catalog[DefaultLanguage]
	}
	s, ok := texts[key]
	if !ok {
		s = catalog[DefaultLanguage][key]
	}
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}

// baseLanguage turns "pt-BR" into "pt".
func baseLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}

func userLanguage(code string) string {
	if code == "" {
		return DefaultLanguage
	}
	return code
}
