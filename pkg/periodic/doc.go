// Package periodic runs a named function on a fixed tick, shared by the
// buddy switchover engine and the quota aggregator. It is the one
// ticker+stopCh loop shape those two components would otherwise each
// reimplement.
package periodic
