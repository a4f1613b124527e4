// Package calc holds what the calculation adapters share: the catalog of
// named calculations, the numeric policy (missing -> 0, guarded division),
// table ranking, the batch success policy and job-spec/scheduling helpers.
//
// Domain adapters live in calc/season, calc/team and calc/table.
package calc
