package models

// Spreadsheet is a candidate record-store location.
type Spreadsheet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
