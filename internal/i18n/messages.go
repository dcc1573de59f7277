// Package i18n holds the bilingual prompt catalog. The language menu itself
// is always bilingual; every later prompt follows the passenger's choice.
package i18n

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/moto-dispatch/internal/models"
)

// Messages is the prompt set for one language.
type Messages struct {
	ChooseVehicle      string
	AskName            string
	AskPhone           string
	AskLocationText    string
	AskLocationPin     string
	AskDestination     string
	AskIdentifier      string
	AskWaitTime        string
	ConfirmWord        string
	CancelWord         string
	InvalidChoice      string
	InvalidPhone       string
	InvalidWaitTime    string
	InvalidCPF         string
	RequestCancelled   string
	Searching          string
	Keepalive          string
	InactivityWarning  string
	InactivityTimeout  string
	RideExpired        string
	RetryWaitTime      string
	DriverCancelled    string
	RideCancelledUser  string
	RideNotFound       string
	RideNotYours       string
	RideAlreadyTaken   string
	RideNotPending     string
	CPFPrompt          string
	CPFNoMatch         string
	CPFExhausted       string
	RatingThanks       string
	RatingInvalid      string
	RatingNothingOpen  string
	HistoryHeader      string
	HistoryEmpty       string
	NoReputationYet    string
}

// ChooseLanguage is sent before a language is known, so it carries both.
const ChooseLanguage = "Escolha o idioma / Choose your language:\n1 - Português\n2 - English"

var pt = Messages{
	ChooseVehicle:     "Qual veículo você precisa?\n1 - Mototaxi\n2 - Taxi",
	AskName:           "Qual é o seu nome?",
	AskPhone:          "Qual é o seu telefone? (ex: +5511987654321)",
	AskLocationText:   "Onde você está? Descreva o local.",
	AskLocationPin:    "Se puder, envie sua localização pelo anexo. Ou responda OK para continuar.",
	AskDestination:    "Para onde você vai?",
	AskIdentifier:     "Como o motorista pode te identificar? (ex: camiseta azul)",
	AskWaitTime:       "Quantos minutos você pode esperar? (mínimo 5)",
	ConfirmWord:       "CONFIRMAR",
	CancelWord:        "CANCELAR",
	InvalidChoice:     "Opção inválida. Responda 1 ou 2.",
	InvalidPhone:      "Telefone inválido. Use o formato +5511987654321.",
	InvalidWaitTime:   "Tempo de espera inválido. Informe um número de minutos (mínimo 5).",
	InvalidCPF:        "CPF inválido. Envie os 11 dígitos, somente números.",
	RequestCancelled:  "Pedido cancelado. Envie taxi ou mototaxi para começar de novo.",
	Searching:         "Procurando um motorista para você. Aguarde!",
	Keepalive:         "Ainda estamos procurando um motorista. Obrigado pela paciência!",
	InactivityWarning: "Você ainda está aí? Sua solicitação será encerrada em breve por inatividade.",
	InactivityTimeout: "Conversa encerrada por inatividade. Envie taxi ou mototaxi para recomeçar.",
	RideExpired:       "Nenhum motorista aceitou no tempo informado.\n1 - Tentar novamente\n2 - Cancelar",
	RetryWaitTime:     "Quantos minutos você pode esperar agora? (mínimo 5)",
	DriverCancelled:   "O motorista cancelou a corrida.\n1 - Procurar outro motorista\n2 - Cancelar",
	RideCancelledUser: "Corrida cancelada.",
	RideNotFound:      "Corrida não encontrada.",
	RideNotYours:      "Essa corrida não pertence a você.",
	RideAlreadyTaken:  "Essa corrida já foi aceita por outro motorista.",
	RideNotPending:    "Essa corrida não está mais disponível.",
	CPFPrompt:         "Não reconhecemos seu número. Envie seu CPF (11 dígitos) para confirmar seu cadastro de motorista.",
	CPFNoMatch:        "CPF não encontrado. Tente novamente.",
	CPFExhausted:      "Não foi possível confirmar seu cadastro. Procure a central para se registrar.",
	RatingThanks:      "Avaliação registrada. Obrigado!",
	RatingInvalid:     "Avaliação inválida. Envie: avaliar <1-5>.",
	RatingNothingOpen: "Nenhuma corrida pendente de avaliação.",
	HistoryHeader:     "Suas últimas corridas:",
	HistoryEmpty:      "Você ainda não tem corridas.",
	NoReputationYet:   "sem avaliações",
}

var en = Messages{
	ChooseVehicle:     "Which vehicle do you need?\n1 - Mototaxi\n2 - Taxi",
	AskName:           "What is your name?",
	AskPhone:          "What is your phone number? (e.g. +5511987654321)",
	AskLocationText:   "Where are you? Describe the place.",
	AskLocationPin:    "If you can, share your GPS location as an attachment. Or reply OK to continue.",
	AskDestination:    "Where are you going?",
	AskIdentifier:     "How can the driver spot you? (e.g. blue shirt)",
	AskWaitTime:       "How many minutes can you wait? (minimum 5)",
	ConfirmWord:       "CONFIRM",
	CancelWord:        "CANCEL",
	InvalidChoice:     "Invalid option. Reply 1 or 2.",
	InvalidPhone:      "Invalid phone. Use the format +5511987654321.",
	InvalidWaitTime:   "Invalid wait time. Send a number of minutes (minimum 5).",
	InvalidCPF:        "Invalid CPF. Send the 11 digits, numbers only.",
	RequestCancelled:  "Request cancelled. Send taxi or mototaxi to start again.",
	Searching:         "Looking for a driver for you. Hang on!",
	Keepalive:         "Still looking for a driver. Thanks for your patience!",
	InactivityWarning: "Are you still there? Your request will close soon due to inactivity.",
	InactivityTimeout: "Conversation closed due to inactivity. Send taxi or mototaxi to restart.",
	RideExpired:       "No driver accepted within your wait time.\n1 - Try again\n2 - Cancel",
	RetryWaitTime:     "How many minutes can you wait now? (minimum 5)",
	DriverCancelled:   "The driver cancelled the ride.\n1 - Find another driver\n2 - Cancel",
	RideCancelledUser: "Ride cancelled.",
	RideNotFound:      "Ride not found.",
	RideNotYours:      "That ride does not belong to you.",
	RideAlreadyTaken:  "That ride was already accepted by another driver.",
	RideNotPending:    "That ride is no longer available.",
	CPFPrompt:         "We don't recognize your number. Send your CPF (11 digits) to confirm your driver registration.",
	CPFNoMatch:        "CPF not found. Try again.",
	CPFExhausted:      "We could not confirm your registration. Contact the dispatch office to register.",
	RatingThanks:      "Rating recorded. Thank you!",
	RatingInvalid:     "Invalid rating. Send: rate <1-5>.",
	RatingNothingOpen: "No ride awaiting your rating.",
	HistoryHeader:     "Your latest rides:",
	HistoryEmpty:      "You have no rides yet.",
	NoReputationYet:   "no ratings yet",
}

// For returns the prompt set for lang, defaulting to Portuguese.
func For(lang models.Language) *Messages {
	if lang == models.LangEnglish {
		return &en
	}
	return &pt
}

// Confirmation renders the request summary shown before broadcast.
func Confirmation(lang models.Language, r *models.Ride, name string) string {
	m := For(lang)
	if lang == models.LangEnglish {
		return fmt.Sprintf(
			"Please review your request:\nVehicle: %s\nName: %s\nFrom: %s\nTo: %s\nSpotting: %s\nWait: %d min\n\nReply %s to send it to drivers, or %s to abort.",
			r.VehicleType, name, r.LocationText, r.Destination, r.IdentifierText, r.WaitTimeMinutes,
			m.ConfirmWord, m.CancelWord)
	}
	return fmt.Sprintf(
		"Confira seu pedido:\nVeículo: %s\nNome: %s\nOrigem: %s\nDestino: %s\nIdentificação: %s\nEspera: %d min\n\nResponda %s para enviar aos motoristas, ou %s para desistir.",
		r.VehicleType, name, r.LocationText, r.Destination, r.IdentifierText, r.WaitTimeMinutes,
		m.ConfirmWord, m.CancelWord)
}

// DriverBroadcast renders the request message every eligible driver receives.
func DriverBroadcast(r *models.Ride, passengerName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛵 Corrida #%d (%s)\n", r.ID, r.VehicleType)
	fmt.Fprintf(&b, "Passageiro: %s\n", passengerName)
	fmt.Fprintf(&b, "Origem: %s\n", r.LocationText)
	fmt.Fprintf(&b, "Destino: %s\n", r.Destination)
	fmt.Fprintf(&b, "Identificação: %s\n", r.IdentifierText)
	fmt.Fprintf(&b, "Espera: %d min\n", r.WaitTimeMinutes)
	fmt.Fprintf(&b, "\nPara aceitar, responda: aceitar %d", r.ID)
	return b.String()
}

// DriverAccepted tells the passenger who is coming, with reputation.
func DriverAccepted(lang models.Language, d *models.Driver, reputation string) string {
	if lang == models.LangEnglish {
		return fmt.Sprintf("Driver found!\nName: %s\nPhone: %s\nReputation: %s", d.Name, d.Phone, reputation)
	}
	return fmt.Sprintf("Motorista encontrado!\nNome: %s\nTelefone: %s\nReputação: %s", d.Name, d.Phone, reputation)
}

// PassengerDetails tells the accepting driver who they are picking up.
func PassengerDetails(r *models.Ride, name, phone, reputation string) string {
	return fmt.Sprintf("Corrida #%d confirmada.\nPassageiro: %s\nTelefone: %s\nReputação: %s\nOrigem: %s\nDestino: %s",
		r.ID, name, phone, reputation, r.LocationText, r.Destination)
}

// RatingPrompt asks one party to rate the other after a completed ride.
func RatingPrompt(lang models.Language, rideID int64) string {
	if lang == models.LangEnglish {
		return fmt.Sprintf("How was ride #%d? Reply: rate <1-5>", rideID)
	}
	return fmt.Sprintf("Como foi a corrida #%d? Responda: avaliar <1-5>", rideID)
}

// HistoryLine renders one row of the "my rides" report.
func HistoryLine(lang models.Language, r *models.Ride) string {
	status := map[models.RideStatus]string{
		models.RidePending:   "pendente",
		models.RideCompleted: "concluída",
		models.RideExpired:   "expirada",
		models.RideCancelled: "cancelada",
	}[r.Status]
	if lang == models.LangEnglish {
		status = string(r.Status)
	}
	return fmt.Sprintf("#%d %s → %s (%s, %s)", r.ID, r.LocationText, r.Destination,
		status, r.CreatedAt.Format(time.DateOnly))
}

// Reputation formats a rolling mean for display; unset is a distinct state.
func Reputation(lang models.Language, rep *float64) string {
	if rep == nil {
		return For(lang).NoReputationYet
	}
	return fmt.Sprintf("%.1f ⭐", *rep)
}
