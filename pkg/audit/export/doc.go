// Package export writes audit records as JSON or CSV.
//
// Both exporters implement audit.Exporter and also accept a channel of
// records through ExportStream, which the archive job uses to write large
// ledgers without holding them in memory.
//
//	exp, err := export.ForFormat("csv")
//	if err != nil {
//		return err
//	}
//	err = exp.Export(ctx, records, w)
package export
