// Package source supplies groups and templates to the dispatcher: recipient groups
// read from a workbook (one group per sheet, or one per CSV file) and a library of
// named templates.
package source
