// Package telegrams holds the standard OSIP variants exchanged between the
// warehouse control system and its subsystems.
//
// Call Register once at start-up to add them to a RegistryBuilder:
//
//	builder := serialization.NewRegistryBuilder()
//	if err := telegrams.Register(builder); err != nil {
//		return err
//	}
//	registry := builder.Build()
package telegrams
