// Package graphs provides the built-in orchestration graphs served by tickgraph.
//
// Every constructor returns a fresh orchestration so that concurrent runs never
// share node state:
//   - Echo: a single dead-end node returning its input
//   - Text: normalizes text and fans out to title and stats nodes, which are
//     combined into one report
//   - Agent: an LLM draft and review loop that ends on an APPROVED verdict
//   - Script graphs: JSON definitions whose node bodies and edge predicates are
//     JavaScript evaluated by goja
package graphs
