// Package compiler lowers shell syntax trees into MIR and runs them.
//
// Process of execution:
//
//	Syntax Tree Text (yaml)
//		ast.Decode ->
//	Syntax Tree (ast)
//		lower ->
//	Mid-level IR (mir)
//		check ->
//	Verified MIR
//		exec ->
//	Value
//
// format renders MIR as text at any point after lowering.
package compiler
