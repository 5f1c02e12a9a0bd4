// Package output renders seqmesh-cli results.
//
// Every command hands a value to a Formatter chosen by --output:
//
//   - table: aligned columns via text/tabwriter; struct fields tagged
//     table:"wide" only show with --wide
//   - json: indented encoding/json
//   - yaml: gopkg.in/yaml.v3
//
// Progress and Spinner give feedback on stderr for long admin calls.
package output
