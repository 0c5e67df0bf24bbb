// Package sdruntime provides the image synthesis runtimes.
//
// It follows atomic design principles:
//
//   - Atoms: pure functions (ValidateParams, NormalizePrompt, RandomSeed,
//     ResolveSeed, IsXLModel, EncodePNG)
//   - Molecules: LocalModel (seeded in-process sampler) and RemoteModel
//     (OpenAI-compatible images endpoint)
//   - Organism: this package, loaded through the model cache
//
// # Quick Start
//
//	m, err := sdruntime.NewLocalModel(ctx, "runwayml/stable-diffusion-v1-5", "cpu")
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	params := sdruntime.DefaultParams()
//	params.Prompt = "a sunset over mountains"
//	params.Seed = 42
//
//	res, err := m.Generate(ctx, params, func(step, total int) {
//	    fmt.Printf("step %d/%d\n", step, total)
//	})
//
// res.Images holds PNG bytes. The same params and seed always produce the
// same bytes from LocalModel.
//
// # Error Handling
//
// Use errors.Is() against the package sentinels:
//
//   - ErrInvalidPrompt, ErrInvalidParams: request rejected before sampling
//   - ErrModelNotFound, ErrModelLoadFailed: loading failed
//   - ErrModelClosed: the model was released by the cache
//   - ErrGenerationFailed: the runtime failed mid-generation
//   - ErrOutOfVRAM: device memory exhausted, also matches core.ErrOutOfMemory
//
// Cancellation returns ctx.Err() unwrapped.
package sdruntime
