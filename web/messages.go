package web

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys are the English source strings.
const (
	MsgTitle             = "Password Required"
	MsgDescription       = "This checkout page is password protected. Please enter the password to continue."
	MsgPlaceholder       = "Enter password"
	MsgSubmit            = "Submit"
	MsgNotice            = "This is a development/staging environment. If you reached this page by mistake, please visit the main website."
	MsgIncorrectPassword = "Incorrect password. Please try again."
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Spanish,
}

var (
	matcher  = language.NewMatcher(supported)
	messages = buildCatalog()
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, pairs ...string) {
		for i := 0; i+1 < len(pairs); i += 2 {
			b.SetString(tag, pairs[i], pairs[i+1]) //nolint:errcheck
		}
	}
	set(language.English,
		MsgTitle, MsgTitle,
		MsgDescription, MsgDescription,
		MsgPlaceholder, MsgPlaceholder,
		MsgSubmit, MsgSubmit,
		MsgNotice, MsgNotice,
		MsgIncorrectPassword, MsgIncorrectPassword,
	)
	set(language.German,
		MsgTitle, "Passwort erforderlich",
		MsgDescription, "Diese Kassenseite ist passwortgeschützt. Bitte geben Sie das Passwort ein, um fortzufahren.",
		MsgPlaceholder, "Passwort eingeben",
		MsgSubmit, "Absenden",
		MsgNotice, "Dies ist eine Entwicklungs- oder Staging-Umgebung. Falls Sie diese Seite versehentlich aufgerufen haben, besuchen Sie bitte die Hauptwebsite.",
		MsgIncorrectPassword, "Falsches Passwort. Bitte versuchen Sie es erneut.",
	)
	set(language.French,
		MsgTitle, "Mot de passe requis",
		MsgDescription, "Cette page de paiement est protégée par un mot de passe. Veuillez saisir le mot de passe pour continuer.",
		MsgPlaceholder, "Saisissez le mot de passe",
		MsgSubmit, "Valider",
		MsgNotice, "Ceci est un environnement de développement ou de préproduction. Si vous êtes arrivé ici par erreur, veuillez consulter le site principal.",
		MsgIncorrectPassword, "Mot de passe incorrect. Veuillez réessayer.",
	)
	set(language.Spanish,
		MsgTitle, "Contraseña requerida",
		MsgDescription, "Esta página de pago está protegida con contraseña. Introduzca la contraseña para continuar.",
		MsgPlaceholder, "Introduzca la contraseña",
		MsgSubmit, "Enviar",
		MsgNotice, "Este es un entorno de desarrollo o de pruebas. Si ha llegado aquí por error, visite el sitio principal.",
		MsgIncorrectPassword, "Contraseña incorrecta. Inténtelo de nuevo.",
	)
	return b
}

// Printer returns a message printer for the best supported match of an
// Accept-Language header, along with the matched language's BCP 47 code.
func Printer(acceptLanguage string) (*message.Printer, string) {
	_, idx := language.MatchStrings(matcher, acceptLanguage)
	tag := supported[idx]
	return message.NewPrinter(tag, message.Catalog(messages)), tag.String()
}

// Localize translates a message key for an Accept-Language header.
func Localize(acceptLanguage, key string) string {
	p, _ := Printer(acceptLanguage)
	return p.Sprintf(key)
}
