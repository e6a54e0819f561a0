package metrics

const (
	labelJob      = "job"
	labelResource = "resource"
	labelOutcome  = "outcome"
	labelKind     = "kind"
	labelStatus   = "status"
	labelResult   = "result"
	labelService  = "service"
)
