/*
PURPOSE:
  Static category table. Every billable category is declared once here with
  its phase, label, optional mandate-fixed fee and its behavioral flags, and
  all lookups (auto-validation, uniqueness, fee amount, action-kind mapping)
  read this table instead of branching on category names.

FIXED FEES (mandate annex):
  - OUVERTURE_DOSSIER            250.00  auto-validated, once per case
  - ENQUETE_PRECONTENTIEUSE      300.00  auto-validated, once per case
  - AVANCE_RECOUVREMENT_JURIDIQUE 1000.00 auto-validated, once per case
  - ATTESTATION_CARENCE          500.00  manual validation, once per case
*/
package tariff

import "github.com/carthago/recovery-engine/billing"

// =============================================================================
// CATEGORY CONSTANTS
// =============================================================================

const (
	// CREATION
	CategoryCaseOpening = "OUVERTURE_DOSSIER"

	// ENQUETE
	CategoryInvestigation = "ENQUETE_PRECONTENTIEUSE"
	CategoryExpertise     = "EXPERTISE"
	CategoryTravel        = "DEPLACEMENT"

	// AMIABLE
	CategoryPhoneReminder = "RELANCE_TELEPHONIQUE"
	CategoryReminderMail  = "COURRIER_RELANCE"
	CategoryFieldVisit    = "VISITE_TERRAIN"
	CategoryFormalNotice  = "MISE_EN_DEMEURE"

	// JURIDIQUE
	CategoryJuridicalAdvance   = "AVANCE_RECOUVREMENT_JURIDIQUE"
	CategoryCarenceAttestation = "ATTESTATION_CARENCE"
	CategoryBailiffDocument    = "DOCUMENT_HUISSIER"
	CategoryBailiffAction      = "ACTION_HUISSIER"
	CategoryHearing            = "AUDIENCE"
	CategoryLawyerFees         = "HONORAIRES_AVOCAT"
)

// CategorySpec describes how a category behaves. FixedFee is nil for
// catalog-priced categories.
type CategorySpec struct {
	Category      string
	Phase         billing.Phase
	Label         string
	FixedFee      *billing.Amount
	AutoValidate  bool // created directly in VALIDATED, never disputed
	UniquePerCase bool // at most one non-rejected item per case
}

func fee(v string) *billing.Amount {
	a := billing.Amount{Value: billing.MustParseDecimal(v)}
	return &a
}

var categoryTable = map[string]CategorySpec{
	CategoryCaseOpening: {
		Category: CategoryCaseOpening, Phase: billing.PhaseCreation,
		Label: "Frais d'ouverture de dossier", FixedFee: fee("250.00"),
		AutoValidate: true, UniquePerCase: true,
	},
	CategoryInvestigation: {
		Category: CategoryInvestigation, Phase: billing.PhaseEnquete,
		Label: "Enquête précontentieuse", FixedFee: fee("300.00"),
		AutoValidate: true, UniquePerCase: true,
	},
	CategoryExpertise: {
		Category: CategoryExpertise, Phase: billing.PhaseEnquete,
		Label: "Expertise",
	},
	CategoryTravel: {
		Category: CategoryTravel, Phase: billing.PhaseEnquete,
		Label: "Frais de déplacement",
	},
	CategoryPhoneReminder: {
		Category: CategoryPhoneReminder, Phase: billing.PhaseAmiable,
		Label: "Relance téléphonique",
	},
	CategoryReminderMail: {
		Category: CategoryReminderMail, Phase: billing.PhaseAmiable,
		Label: "Courrier de relance",
	},
	CategoryFieldVisit: {
		Category: CategoryFieldVisit, Phase: billing.PhaseAmiable,
		Label: "Visite terrain",
	},
	CategoryFormalNotice: {
		Category: CategoryFormalNotice, Phase: billing.PhaseAmiable,
		Label: "Mise en demeure",
	},
	CategoryJuridicalAdvance: {
		Category: CategoryJuridicalAdvance, Phase: billing.PhaseJuridique,
		Label: "Avance recouvrement juridique", FixedFee: fee("1000.00"),
		AutoValidate: true, UniquePerCase: true,
	},
	CategoryCarenceAttestation: {
		Category: CategoryCarenceAttestation, Phase: billing.PhaseJuridique,
		Label: "Attestation de carence", FixedFee: fee("500.00"),
		UniquePerCase: true,
	},
	CategoryBailiffDocument: {
		Category: CategoryBailiffDocument, Phase: billing.PhaseJuridique,
		Label: "Document d'huissier",
	},
	CategoryBailiffAction: {
		Category: CategoryBailiffAction, Phase: billing.PhaseJuridique,
		Label: "Action d'huissier",
	},
	CategoryHearing: {
		Category: CategoryHearing, Phase: billing.PhaseJuridique,
		Label: "Audience",
	},
	CategoryLawyerFees: {
		Category: CategoryLawyerFees, Phase: billing.PhaseJuridique,
		Label: "Honoraires d'avocat",
	},
}

// LookupCategory returns the spec for a known category.
func LookupCategory(category string) (CategorySpec, bool) {
	spec, ok := categoryTable[category]
	return spec, ok
}

// Categories returns all known categories for a phase, or all when phase is
// empty.
func Categories(phase billing.Phase) []CategorySpec {
	out := make([]CategorySpec, 0, len(categoryTable))
	for _, spec := range categoryTable {
		if phase == "" || spec.Phase == phase {
			out = append(out, spec)
		}
	}
	return out
}

// =============================================================================
// ACTION KIND MAPPING
// =============================================================================

// ActionKind identifies the operational event that generates a charge.
type ActionKind string

const (
	ActionCall            ActionKind = "APPEL"
	ActionReminderMail    ActionKind = "COURRIER"
	ActionFieldVisit      ActionKind = "VISITE"
	ActionFormalNotice    ActionKind = "MISE_EN_DEMEURE"
	ActionBailiffDocument ActionKind = "DOCUMENT_HUISSIER"
	ActionBailiffVisit    ActionKind = "ACTION_HUISSIER"
	ActionHearing         ActionKind = "AUDIENCE"
)

var actionCategories = map[ActionKind]string{
	ActionCall:            CategoryPhoneReminder,
	ActionReminderMail:    CategoryReminderMail,
	ActionFieldVisit:      CategoryFieldVisit,
	ActionFormalNotice:    CategoryFormalNotice,
	ActionBailiffDocument: CategoryBailiffDocument,
	ActionBailiffVisit:    CategoryBailiffAction,
	ActionHearing:         CategoryHearing,
}

// CategoryForAction maps an operational event kind to its billing category.
func CategoryForAction(kind ActionKind) (string, bool) {
	c, ok := actionCategories[kind]
	return c, ok
}
