package mcpserver

// CheckpointContract describes how a reviewer answers each checkpoint
// type. LLM consumers should read it before calling approve_checkpoint.
const CheckpointContract = `# Casefile Checkpoint Contract

A session pauses at five checkpoints, in this order. Each pause must be
answered with a response of the same type before the session continues.

| type            | payload shown                          | valid responses                         |
|-----------------|----------------------------------------|-----------------------------------------|
| input-review    | roster, missing characters, counts     | approved                                |
| evidence-bundle | exposed tokens, buried sales, photos   | approved                                |
| arc-selection   | candidate arcs with strength, emphasis | selected_arc_ids, or feedback           |
| outline         | headline and sections                  | approved, or feedback                   |
| article         | article and its Markdown rendering     | approved, or feedback                   |

## Rules

1. **Type must match.** A response for any other type than the pending
   checkpoint is rejected as a checkpoint mismatch.
2. **Arc ids must exist.** Every selected id must name an arc of the
   current arc set. At least one arc is required.
3. **Feedback regenerates.** A non-empty feedback string sends the phase
   back to generation with that note. After the revision cap the next
   feedback is escalated and the phase is accepted as it stands.
4. **Buried memories stay buried.** Buried tokens appear only as sales
   (token id, amount, account). Their content is never shown and must
   never be asked for.
5. **Concurrency.** Pass the checkpoint checksum as if_match to make sure
   the answer applies to the checkpoint you read.

## Rollback

rollback_session returns a session to any checkpoint it already reached.
Everything produced after that checkpoint is discarded. With feedback or
regenerate the checkpoint's own artifact is regenerated too.
`
