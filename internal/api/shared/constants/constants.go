package constants

const (
	MAX_DRUGS_PER_PRESCRIPTION = 20
	MAX_IDENTIFIER_LENGTH      = 128
)
