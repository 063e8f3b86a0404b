package detect

// RunConfig is the validated, read-only configuration of a single run.
type RunConfig struct {
	LayerURL   string
	LayerID    int
	SharingURL string

	Username string
	Password string
	Referer  string

	// FieldsToReport is an explicit field list or a single WildcardFields.
	FieldsToReport []string

	// MapURL is the viewer URL the record coordinates are appended to.
	MapURL string

	MailText   string
	From       string
	Recipients []string
	Subject    string

	// OneMail selects batched notification: one message for all records.
	OneMail bool
}
