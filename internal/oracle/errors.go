package oracle

import xerrors "SolOracle-Chain/internal/errors"

const (
	CodeMissingInput          xerrors.Code = "MISSING_INPUT"
	CodeCounterUnavailable    xerrors.Code = "COUNTER_UNAVAILABLE"
	CodeResponseTimeout       xerrors.Code = "RESPONSE_TIMEOUT"
	CodeAccountDecode         xerrors.Code = "ACCOUNT_DECODE"
	CodeInvalidOracleIdentity xerrors.Code = "INVALID_ORACLE_IDENTITY"
)

var (
	// ErrMissingInput is returned when a derivation step runs before the
	// steps it depends on.
	ErrMissingInput = xerrors.New(CodeMissingInput, "derivation input not yet available")
	// ErrCounterUnavailable is logged, never returned, when the counter read fails.
	ErrCounterUnavailable = xerrors.New(CodeCounterUnavailable, "oracle counter unavailable")
	// ErrResponseTimeout reports that no callback arrived within the wait budget.
	ErrResponseTimeout = xerrors.New(CodeResponseTimeout, "oracle response not received in time")
	// ErrAccountDecode reports malformed agent account data.
	ErrAccountDecode = xerrors.New(CodeAccountDecode, "account data could not be decoded")
	// ErrInvalidOracleIdentity reports a callback signed by someone other
	// than the oracle identity account.
	ErrInvalidOracleIdentity = xerrors.New(CodeInvalidOracleIdentity, "callback signer is not the oracle identity")
)

func init() {
	xerrors.Register(CodeMissingInput, xerrors.Attributes{Message: "derivation input not yet available", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeCounterUnavailable, xerrors.Attributes{Message: "oracle counter unavailable", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeResponseTimeout, xerrors.Attributes{Message: "oracle response not received in time", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeAccountDecode, xerrors.Attributes{Message: "account data could not be decoded", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeInvalidOracleIdentity, xerrors.Attributes{Message: "callback signer is not the oracle identity", Severity: xerrors.SeverityCritical, Alert: true})
}
