package actions

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/depotd/internal/document"
	"github.com/danmuck/depotd/internal/schema"
)

const KindRequestLicense = "request_license"

const defaultLicenseLanguage = "en"

// licenseTexts holds the distribution terms shown before an upload, keyed
// by language code.
var licenseTexts = map[string]string{
	"en": "Content uploaded to this server is redistributed under the " +
		"terms of the GNU General Public License version 2 or later. " +
		"By uploading you certify that you hold the rights to do so.",
	"fr": "Le contenu envoyé sur ce serveur est redistribué selon " +
		"les termes de la licence GNU GPL version 2 ou ultérieure.",
}

// LicenseHandler answers request_license with the distribution license
// text for the requested language, falling back to English.
type LicenseHandler struct{}

func (LicenseHandler) Execute(_ context.Context, req *Request, res Responder) {
	lang := req.Metadata.AttrOr("language", defaultLicenseLanguage)
	text, ok := licenseTexts[lang]
	if !ok {
		log.Debug().Str("peer", req.Peer).Str("language", lang).Msg("license language not available, serving default")
		lang = defaultLicenseLanguage
		text = licenseTexts[lang]
	}

	payload := document.New()
	license := payload.AddChild("license")
	license.SetAttr("language", lang)
	license.SetAttr("text", text)
	res.Succeed(payload)
}

// LicenseDescriptor binds the license schema and handler to its kind.
func LicenseDescriptor() Descriptor {
	return Descriptor{
		Kind: KindRequestLicense,
		Schema: &schema.Schema{
			Kind:  KindRequestLicense,
			Attrs: []schema.AttrRule{{Name: "language"}},
		},
		Handler: LicenseHandler{},
	}
}
