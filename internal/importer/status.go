package importer

import (
	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

type statusKey struct {
	status string
	action string
}

// statusTable maps (prog_status, prog_action) to a local status. A present key
// with an empty code is a data correction and changes nothing.
var statusTable = map[statusKey]models.StatusCode{
	{"AP", "APPL"}: models.StatusComplete,
	{"AP", "RAPP"}: models.StatusComplete,
	{"AP", "DATA"}: "",
	{"AP", "PRGC"}: "",
	{"AD", "ADMT"}: models.StatusOfferOut,
	{"AD", "COND"}: models.StatusOfferOut,
	{"AD", "DATA"}: "",
	{"AD", "PRGC"}: "",
	{"PM", "DEIN"}: models.StatusConfirmed,
	{"PM", "DATA"}: "",
	{"AC", "MATR"}: models.StatusActive,
	{"AC", "RADM"}: models.StatusActive,
	{"AC", "ACTV"}: models.StatusActive,
	{"AC", "RLOA"}: models.StatusActive,
	{"AC", "DATA"}: "",
	{"AC", "PLNC"}: "",
	{"AC", "PRGC"}: "",
	{"LA", "LEAV"}: models.StatusLeave,
	{"LA", "DATA"}: "",
	{"CN", "WAPP"}: models.StatusCancelled,
	{"CN", "WADM"}: models.StatusDeclined,
	{"CN", "DENY"}: models.StatusRejected,
	{"CN", "DATA"}: "",
	{"DC", "DISC"}: models.StatusWithdrawn,
	{"DC", "DATA"}: "",
	{"CM", "COMP"}: models.StatusGraduated,
}

type reasonKey struct {
	status string
	action string
	reason string
}

// reasonOverrides take precedence over statusTable.
var reasonOverrides = map[reasonKey]models.StatusCode{
	// an offer withdrawn because the student moved to another program
	{"CN", "WADM", "PRGC"}: "",
}

// ResolveStatus translates a program-status row into a local status code. An
// empty code with a nil error means the row changes no status.
func ResolveStatus(progStatus, progAction, progReason, checkout string) (models.StatusCode, error) {
	if code, ok := reasonOverrides[reasonKey{progStatus, progAction, progReason}]; ok {
		return code, nil
	}
	code, ok := statusTable[statusKey{progStatus, progAction}]
	if !ok {
		return "", appErrors.Clonef(appErrors.ErrUnmappedStatus, "unmapped program status %s/%s/%s", progStatus, progAction, progReason)
	}
	if code == models.StatusGraduated {
		// degree checkout still in progress: completed in the feed but not conferred
		switch checkout {
		case "", "AW":
		case "AG", "EG":
			return "", nil
		default:
			return "", appErrors.Clonef(appErrors.ErrUnmappedStatus, "unmapped degree checkout %q", checkout)
		}
	}
	return code, nil
}

var roleTable = map[string]models.SupervisorType{
	"SNRS": models.SupervisorSenior,
	"COSP": models.SupervisorCoSenior,
	"MMBR": models.SupervisorCommittee,
	"CHAI": models.SupervisorChair,
	"EXTL": models.SupervisorExternal,
	"SFUX": models.SupervisorInternal,
	"POTS": models.SupervisorPotential,
}

// ResolveSupervisorType translates a committee role code.
func ResolveSupervisorType(role string) (models.SupervisorType, error) {
	t, ok := roleTable[role]
	if !ok {
		return "", appErrors.Clonef(appErrors.ErrUnmappedRole, "unmapped committee role %q", role)
	}
	return t, nil
}
